// CLAUDE:SUMMARY Fails audio/video requests inside a capture tab so streaming media never loads while the page is scrolled.
package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockedTypes are the resource types failed when media blocking is on.
var blockedTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeMedia: true,
}

// blockMedia intercepts requests of the tab and fails blocked types. The
// returned router must be stopped when the tab closes.
func blockMedia(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func shouldBlock(t proto.NetworkResourceType) bool {
	return blockedTypes[t]
}

// internal/browser/intercept.go
package browser

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/mockroute/internal/router"
)

// interceptAll pauses every request at the request stage; the router decides
// which ones it actually answers.
var interceptAll = []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}

// requestFromPaused builds the router's view of a paused CDP request.
func requestFromPaused(ev *fetch.EventRequestPaused) router.Request {
	req := router.Request{ResourceType: ev.ResourceType.String()}
	if ev.Request == nil {
		return req
	}
	req.Method = ev.Request.Method
	req.URL = ev.Request.URL + ev.Request.URLFragment
	req.Headers = flattenHeaders(ev.Request.Headers)
	req.Body = postData(ev.Request.PostDataEntries)
	return req
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func postData(entries []*network.PostDataEntry) []byte {
	var body []byte
	for _, e := range entries {
		if e == nil || e.Bytes == "" {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(e.Bytes)
		if err != nil {
			continue
		}
		body = append(body, chunk...)
	}
	return body
}

// responseHeaders lists the fulfilled response headers with Content-Type first
// and the rest in name order.
func responseHeaders(resp router.Response) []*fetch.HeaderEntry {
	var out []*fetch.HeaderEntry
	if resp.ContentType != "" {
		out = append(out, &fetch.HeaderEntry{Name: "Content-Type", Value: resp.ContentType})
	}
	for _, name := range sortedHeaderNames(resp.Headers) {
		if resp.ContentType != "" && strings.EqualFold(name, "Content-Type") {
			continue
		}
		out = append(out, &fetch.HeaderEntry{Name: name, Value: resp.Headers[name]})
	}
	return out
}

// fulfillParams turns a router response into a Fetch.fulfillRequest command.
func fulfillParams(id fetch.RequestID, resp router.Response) *fetch.FulfillRequestParams {
	p := fetch.FulfillRequest(id, int64(resp.Status))
	if headers := responseHeaders(resp); len(headers) > 0 {
		p = p.WithResponseHeaders(headers)
	}
	if len(resp.Body) > 0 {
		p = p.WithBody(base64.StdEncoding.EncodeToString(resp.Body))
	}
	return p
}

// failParams aborts a request the way a content blocker would, so the page
// sees a network error instead of hanging.
func failParams(id fetch.RequestID) *fetch.FailRequestParams {
	return fetch.FailRequest(id, network.ErrorReasonBlockedByClient)
}

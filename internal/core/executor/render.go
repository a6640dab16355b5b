package executor

import (
	"strconv"
	"strings"
	"time"

	"regprobe/internal/shared/types"
)

const (
	tokenAccount   = "{{account}}"
	tokenTimestamp = "{{timestamp}}"
)

// renderedRequest is one probe request with every placeholder substituted.
type renderedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// render substitutes {{account}} with the literal probe value and
// {{timestamp}} with the current epoch milliseconds, verbatim, into every
// header value and into the body when the method carries a payload.
func render(tpl *types.ProbeTemplate, value string) *renderedRequest {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	substitute := func(s string) string {
		s = strings.ReplaceAll(s, tokenAccount, value)
		return strings.ReplaceAll(s, tokenTimestamp, now)
	}

	req := &renderedRequest{
		Method: strings.ToUpper(tpl.RequestMethod),
		URL:    substitute(tpl.RequestURL),
	}
	if req.Method == "" {
		req.Method = "POST"
	}

	if len(tpl.RequestHeaders) > 0 {
		req.Headers = make(map[string]string, len(tpl.RequestHeaders))
		for k, v := range tpl.RequestHeaders {
			req.Headers[k] = substitute(v)
		}
	}

	if tpl.RequestBody != "" && methodHasBody(req.Method) {
		req.Body = substitute(tpl.RequestBody)
	}
	return req
}

func methodHasBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

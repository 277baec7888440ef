package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
	report_resty_error    = "resty.error"
	report_resty_dump     = "resty.dump"
)

// InstrumentOutput receives a rendered request/response pair for every
// completed request.
type InstrumentOutput interface {
	Write(id string, contents string) error
}

// DirectoryOutput writes every message into its own file under a directory.
type DirectoryOutput struct {
	directory string
}

func NewDirectoryOutput(dir string) (DirectoryOutput, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return DirectoryOutput{}, err
	}
	return DirectoryOutput{directory: dir}, nil
}

func (o DirectoryOutput) Write(id string, contents string) error {
	return os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
}

type instrumentResty struct {
	tel       API
	output    InstrumentOutput
	idcounter *uint64
}

// InstrumentResty reports the lifecycle of every request made with client.
// `output` may be nil, in which case messages are not dumped.
//
// Requests made with SetDoNotParseResponse skip resty's response middleware,
// so only their start is reported.
func InstrumentResty(client *resty.Client, tel API, output InstrumentOutput) {
	var idcounter uint64
	i := instrumentResty{tel: tel, output: output, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id        uint64
	startTime time.Time
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()

	id := atomic.AddUint64(i.idcounter, 1)
	ctx = context.WithValue(ctx, reqCtxKey, reqCtx{
		id:        id,
		startTime: time.Now(),
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, req.URL)

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	reqCtx, ok := res.Request.Context().Value(reqCtxKey).(reqCtx)
	if !ok {
		return nil
	}

	i.tel.ReportDebug(
		report_resty_response,
		reqCtx.id,
		time.Since(reqCtx.startTime).String(),
		res.Status(),
	)

	if i.output != nil {
		err := i.output.Write(strconv.FormatUint(reqCtx.id, 10), formatHttpMessage(res))
		if err != nil {
			i.tel.ReportWarning(report_resty_dump, err)
		}
	}

	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	reqCtx, _ := req.Context().Value(reqCtxKey).(reqCtx)
	i.tel.ReportDebug(report_resty_error, reqCtx.id, req.Method, req.URL, err)
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(readBody)
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	var requestHeaders string
	if res.Request.RawRequest != nil {
		requestHeaders = formatHeaders(res.Request.RawRequest.Header)
	}

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		redirected, err := res.RawResponse.Location()
		if err == nil {
			responseUrl = redirected.String()
		}
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, res.Request.URL,
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		res.Status(), responseUrl,
		formatHeaders(res.Header()),
		res.String(),
	)
}

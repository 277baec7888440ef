package restyutil

import (
	"net/http"
	"time"

	"atsumare/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Options configures the http behavior shared by every source client.
type Options struct {
	// Timeout applies to a whole request including reading the body, zero
	// disables it.
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	CloudflareBypass  bool
	// Dump receives every completed request/response pair, it may be nil.
	Dump telemetry.InstrumentOutput
}

// NewClient creates a resty client without a cookie jar, session cookies are
// threaded explicitly by the caller. When followRedirects is false the 3xx
// response itself is returned so its Location and Set-Cookie headers can be
// inspected.
func NewClient(baseUrl string, followRedirects bool, opts Options, tel telemetry.API) *resty.Client {
	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetCookieJar(nil)
	client.SetTimeout(opts.Timeout)

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)

	if !followRedirects {
		client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	}

	if opts.CloudflareBypass {
		client.SetTransport(cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport))
	}

	if opts.RequestsPerSecond > 0 {
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(client, tel, opts.Dump)

	return client
}

// Cookie returns the value of the first cookie called name set by res.
func Cookie(res *resty.Response, name string) (string, bool) {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Location returns the redirect target of res exactly as the server sent it.
func Location(res *resty.Response) (string, bool) {
	location := res.Header().Get("Location")
	return location, location != ""
}

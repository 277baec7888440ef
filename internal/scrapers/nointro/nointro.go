// Package nointro downloads the daily DAT packs from DAT-o-Matic.
package nointro

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"atsumare/internal/components/assert"
	"atsumare/internal/components/restyutil"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/scraper"

	"github.com/go-resty/resty/v2"
)

const (
	BaseUrl   = "https://datomatic.no-intro.org/"
	dailyPath = "?page=download&op=daily"

	sessionCookie = "PHPSESSID"
	// DAT-o-Matic rate limits downloads, anything faster than this gets the
	// session throttled.
	Throttle = 30 * time.Second
)

var downloadLocation = regexp.MustCompile(`^index.php\?page=manager&download=[0-9]+$`)

var policy = scraper.Policy{
	Archives: []string{"application/zip"},
}

const (
	report_client_authenticate = "client.authenticate"
	report_client_locate       = "client.locate"
	report_client_fetch        = "client.fetch"
)

// Prepare selects which daily pack DAT-o-Matic builds.
type Prepare struct {
	Name string
	Form map[string]string
}

var (
	PreparePublic = Prepare{
		Name: "public",
		Form: map[string]string{
			"dat_type":  "standard",
			"prepare_2": "Prepare",
		},
	}
	PreparePrivate = Prepare{
		Name: "private",
		Form: map[string]string{
			"dat_type":  "standard",
			"prepare_2": "Prepare",
			"private":   "Ok",
		},
	}
)

type Options struct {
	// BaseUrl defaults to the package constant.
	BaseUrl string
	// Prepares defaults to the public pack followed by the private pack.
	Prepares []Prepare
	// Throttle defaults to the package constant.
	Throttle time.Duration
	Http     restyutil.Options
}

type Client struct {
	baseUrl  *url.URL
	http     *resty.Client
	prepares []Prepare
	throttle time.Duration
	tel      telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("nointro", tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = BaseUrl
	}
	if opts.Prepares == nil {
		opts.Prepares = []Prepare{PreparePublic, PreparePrivate}
	}
	if opts.Throttle == 0 {
		opts.Throttle = Throttle
	}
	assert.NonNegative(opts.Throttle)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseUrl:  baseUrl,
		http:     restyutil.NewClient(opts.BaseUrl, false, opts.Http, tel),
		prepares: opts.Prepares,
		throttle: opts.Throttle,
		tel:      tel,
	}, nil
}

func (c *Client) Name() string {
	return "nointro"
}

func (c *Client) Throttle() time.Duration {
	return c.throttle
}

func sessionCookieOf(s scraper.Session) *http.Cookie {
	return &http.Cookie{Name: sessionCookie, Value: string(s)}
}

// Authenticate posts the login form. DAT-o-Matic always sets a session
// cookie, the login only succeeded if it also redirects somewhere other than
// its message page.
func (c *Client) Authenticate(ctx context.Context, creds scraper.Credentials) (scraper.Session, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": creds.Username,
			"password": creds.Password,
			"login":    "Login",
		}).
		Post(c.baseUrl.String())
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("login request: %w", err))
		return "", err
	}

	session, ok := restyutil.Cookie(res, sessionCookie)
	if !ok {
		return "", scraper.ErrMissingSessionCookie
	}

	location, ok := restyutil.Location(res)
	if !ok {
		return "", scraper.ErrMissingRedirect
	}
	if strings.HasSuffix(location, "message") {
		return "", fmt.Errorf("%w: redirected to %q", scraper.ErrRejected, location)
	}

	return scraper.Session(session), nil
}

// Locate asks DAT-o-Matic to prepare each configured pack. Every prepare
// answers with a redirect to the download manager and a refreshed session
// which the download must use.
func (c *Client) Locate(ctx context.Context, session scraper.Session) ([]scraper.Target, error) {
	dailyUrl, err := c.baseUrl.Parse(dailyPath)
	if err != nil {
		return nil, err
	}

	targets := make([]scraper.Target, 0, len(c.prepares))
	for _, prepare := range c.prepares {
		req := c.http.R().
			SetContext(ctx).
			SetFormData(prepare.Form)
		if !session.Anonymous() {
			req.SetCookie(sessionCookieOf(session))
		}

		res, err := req.Post(dailyUrl.String())
		if err != nil {
			c.tel.ReportBroken(report_client_locate, fmt.Errorf("prepare %s: %w", prepare.Name, err))
			return nil, err
		}

		location, ok := restyutil.Location(res)
		if !ok {
			return nil, fmt.Errorf("prepare %s: %w (status %s)", prepare.Name, scraper.ErrNoRedirect, res.Status())
		}
		refreshed, ok := restyutil.Cookie(res, sessionCookie)
		if !ok {
			return nil, fmt.Errorf("prepare %s: %w", prepare.Name, scraper.ErrMissingSessionCookie)
		}
		if !downloadLocation.MatchString(location) {
			return nil, fmt.Errorf("prepare %s: %w: %q", prepare.Name, scraper.ErrUnexpectedLocation, location)
		}

		downloadUrl, err := c.baseUrl.Parse(location)
		if err != nil {
			return nil, err
		}
		c.tel.ReportDebug("located download", prepare.Name, downloadUrl.String())

		targets = append(targets, scraper.Target{
			Url:     downloadUrl.String(),
			Form:    map[string]string{"download": "Download"},
			Session: scraper.Session(refreshed),
			Name:    prepare.Name,
		})
	}

	return targets, nil
}

// Fetch confirms the prepared download.
func (c *Client) Fetch(ctx context.Context, target scraper.Target, session scraper.Session) (scraper.Resource, error) {
	if !target.Session.Anonymous() {
		session = target.Session
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetFormData(target.Form).
		SetCookie(sessionCookieOf(session)).
		Post(target.Url)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("download request: %w", err))
		return scraper.Resource{}, err
	}

	p := policy
	p.Fallback = func(bool) string {
		return fmt.Sprintf("nointro-%s.zip", session)
	}
	return p.Resource(res.RawResponse)
}

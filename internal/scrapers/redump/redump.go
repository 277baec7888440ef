// Package redump downloads the per-system datfiles listed on redump.org.
package redump

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"atsumare/internal/components/assert"
	"atsumare/internal/components/htmlutil"
	"atsumare/internal/components/restyutil"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/scraper"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	ForumUrl = "http://forum.redump.org/"
	SiteUrl  = "http://redump.org/"
	Homepage = "redump.org"

	loginPath     = "login/"
	downloadsPath = "downloads/"

	loginSessionCookie = "PHPSESSID"
	sessionCookie      = "redump_cookie"

	downloadsSelector = "table tr td a"
	datfilePrefix     = "/datfile/"
)

var csrfToken = regexp.MustCompile(`<input type="hidden" name="csrf_token" value="([\w]+?)" />`)

var policy = scraper.Policy{
	Archives: []string{"application/zip", "application/x-zip", "application/x-zip-compressed"},
	Legacy:   []string{"text/plain"},
	Homepage: Homepage,
}

const (
	report_client_authenticate = "client.authenticate"
	report_client_locate       = "client.locate"
	report_client_fetch        = "client.fetch"
)

type Options struct {
	// ForumUrl and SiteUrl default to the package constants.
	ForumUrl string
	SiteUrl  string
	Throttle time.Duration
	Http     restyutil.Options
}

type Client struct {
	forumUrl *url.URL
	siteUrl  *url.URL
	// forum never follows redirects, the login outcome is read off the
	// redirect itself.
	forum    *resty.Client
	site     *resty.Client
	throttle time.Duration
	tel      telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NonNegative(opts.Throttle)

	tel = telemetry.NewScopedAPI("redump", tel)

	if opts.ForumUrl == "" {
		opts.ForumUrl = ForumUrl
	}
	if opts.SiteUrl == "" {
		opts.SiteUrl = SiteUrl
	}

	forumUrl, err := url.Parse(opts.ForumUrl)
	if err != nil {
		return nil, err
	}
	siteUrl, err := url.Parse(opts.SiteUrl)
	if err != nil {
		return nil, err
	}

	return &Client{
		forumUrl: forumUrl,
		siteUrl:  siteUrl,
		forum:    restyutil.NewClient(opts.ForumUrl, false, opts.Http, tel),
		site:     restyutil.NewClient(opts.SiteUrl, true, opts.Http, tel),
		throttle: opts.Throttle,
		tel:      tel,
	}, nil
}

func (c *Client) Name() string {
	return "redump"
}

func (c *Client) Throttle() time.Duration {
	return c.throttle
}

func (c *Client) withSession(req *resty.Request, session scraper.Session) *resty.Request {
	if session.Anonymous() {
		return req
	}
	return req.SetCookie(&http.Cookie{Name: sessionCookie, Value: string(session)})
}

// Authenticate logs into the forum, the forum session is what grants access
// to the members-only datfiles on the main site.
func (c *Client) Authenticate(ctx context.Context, creds scraper.Credentials) (scraper.Session, error) {
	loginUrl, err := c.forumUrl.Parse(loginPath)
	if err != nil {
		return "", err
	}

	res, err := c.forum.R().
		SetContext(ctx).
		Get(loginUrl.String())
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("login page request: %w", err))
		return "", err
	}

	loginSession, ok := restyutil.Cookie(res, loginSessionCookie)
	if !ok {
		return "", fmt.Errorf("login page: %w", scraper.ErrMissingSessionCookie)
	}
	groups := csrfToken.FindSubmatch(res.Body())
	if len(groups) < 2 {
		return "", scraper.ErrMissingCsrf
	}

	res, err = c.forum.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: loginSessionCookie, Value: loginSession}).
		SetFormData(map[string]string{
			"req_username": creds.Username,
			"req_password": creds.Password,
			"login":        "Login",
			"form_sent":    "1",
			"redirect_url": c.forumUrl.String(),
			"csrf_token":   string(groups[1]),
		}).
		Post(loginUrl.String())
	if err != nil {
		c.tel.ReportBroken(report_client_authenticate, fmt.Errorf("login request: %w", err))
		return "", err
	}

	if _, ok := restyutil.Location(res); !ok {
		return "", scraper.ErrRejected
	}
	session, ok := restyutil.Cookie(res, sessionCookie)
	if !ok {
		return "", scraper.ErrMissingSessionCookie
	}

	return scraper.Session(session), nil
}

// systemName turns `/datfile/psx/` into `psx`.
func systemName(u *url.URL) string {
	return path.Base(strings.TrimSuffix(u.Path, "/"))
}

// Locate lists the datfile links of the downloads page, anonymous sessions
// only see the public ones.
func (c *Client) Locate(ctx context.Context, session scraper.Session) ([]scraper.Target, error) {
	downloadsUrl, err := c.siteUrl.Parse(downloadsPath)
	if err != nil {
		return nil, err
	}

	res, err := c.withSession(c.site.R().SetContext(ctx), session).
		Get(downloadsUrl.String())
	if err != nil {
		c.tel.ReportBroken(report_client_locate, fmt.Errorf("downloads page request: %w", err))
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		c.tel.ReportBroken(report_client_locate, fmt.Errorf("parse downloads page: %w", err))
		return nil, err
	}

	var targets []scraper.Target
	for _, anchor := range htmlutil.GetAnchors(downloadsUrl, doc.Find(downloadsSelector)) {
		if !strings.HasPrefix(anchor.Url.Path, datfilePrefix) {
			continue
		}
		name := systemName(anchor.Url)
		c.tel.ReportDebug("located datfile", name, anchor.Name)
		targets = append(targets, scraper.Target{
			Url:  anchor.Url.String(),
			Name: name,
		})
	}
	c.tel.ReportDebug("located datfiles", len(targets))

	return targets, nil
}

// Fetch downloads a datfile. Some systems are only published in the
// ClrMamePro format, those are converted to Logiqx XML.
func (c *Client) Fetch(ctx context.Context, target scraper.Target, session scraper.Session) (scraper.Resource, error) {
	if !target.Session.Anonymous() {
		session = target.Session
	}

	res, err := c.withSession(c.site.R().SetContext(ctx).SetDoNotParseResponse(true), session).
		Get(target.Url)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("datfile request: %w", err))
		return scraper.Resource{}, err
	}

	name := target.Name
	if name == "" {
		if u, err := url.Parse(target.Url); err == nil {
			name = systemName(u)
		}
	}

	p := policy
	p.Fallback = func(converted bool) string {
		if converted {
			return fmt.Sprintf("redump-%s.dat", name)
		}
		return fmt.Sprintf("redump-%s.zip", name)
	}
	return p.Resource(res.RawResponse)
}

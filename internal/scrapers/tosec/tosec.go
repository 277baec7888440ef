// Package tosec downloads the complete TOSEC DAT pack.
package tosec

import (
	"context"
	"fmt"
	"time"

	"atsumare/internal/components/assert"
	"atsumare/internal/components/restyutil"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/scraper"

	"github.com/go-resty/resty/v2"
)

// DownloadUrl points at a fixed release of the pack, there is no index to
// discover newer ones from.
const DownloadUrl = "https://www.tosecdev.org/downloads/category/50-2020-07-29?download=99:tosec-dat-pack-complete-3036-tosec-v2020-07-29"

var policy = scraper.Policy{
	Archives: []string{"application/zip", "application/x-zip"},
}

const report_client_fetch = "client.fetch"

type Options struct {
	// Url defaults to DownloadUrl.
	Url  string
	Http restyutil.Options
}

type Client struct {
	url  string
	http *resty.Client
	tel  telemetry.API
}

func NewClient(opts Options, tel telemetry.API) *Client {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("tosec", tel)

	if opts.Url == "" {
		opts.Url = DownloadUrl
	}

	return &Client{
		url:  opts.Url,
		http: restyutil.NewClient("", true, opts.Http, tel),
		tel:  tel,
	}
}

func (c *Client) Name() string {
	return "tosec"
}

func (c *Client) Throttle() time.Duration {
	return 0
}

// Authenticate is a no-op, the pack is public.
func (c *Client) Authenticate(context.Context, scraper.Credentials) (scraper.Session, error) {
	return "", nil
}

func (c *Client) Locate(context.Context, scraper.Session) ([]scraper.Target, error) {
	return []scraper.Target{{Url: c.url, Name: "pack"}}, nil
}

func (c *Client) Fetch(ctx context.Context, target scraper.Target, _ scraper.Session) (scraper.Resource, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target.Url)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("pack request: %w", err))
		return scraper.Resource{}, err
	}
	return policy.Resource(res.RawResponse)
}

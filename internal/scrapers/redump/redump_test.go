package redump

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"atsumare/internal/components/telemetry"
	"atsumare/internal/scraper"

	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<form id="login" method="post" action="http://forum.redump.org/login/">
	<input type="hidden" name="form_sent" value="1" />
	<input type="hidden" name="redirect_url" value="http://forum.redump.org/" />
	<input type="hidden" name="csrf_token" value="a1b2c3d4e5" />
</form>
</body></html>`

const downloadsPage = `<html><body>
<table class="statistics">
	<tr><th>System</th><th>Datfile</th><th>Cuesheets</th></tr>
	<tr>
		<td>Sony - PlayStation</td>
		<td><a href="/datfile/psx/">Datfile</a></td>
		<td><a href="/cues/psx/">Cuesheets</a></td>
	</tr>
	<tr>
		<td>Sega - Dreamcast</td>
		<td><a href="/datfile/dc/">Datfile</a></td>
		<td><a href="/gdi/dc/">GDI</a></td>
	</tr>
	<tr>
		<td>Private</td>
		<td><a href="/datfile/private-only/">Datfile</a></td>
	</tr>
</table>
<a href="/datfile/outside-table/">not in a table</a>
</body></html>`

const legacyDat = `clrmamepro (
	name "Sega - Dreamcast"
	description "Sega - Dreamcast - Discs (1234)"
	category "Games"
	version "20240101"
	author "redump.org"
)

game (
	name "Crazy Taxi (USA)"
	description "Crazy Taxi (USA)"
	rom ( name "Crazy Taxi (USA).gdi" size 86 crc 3E4C1F0D md5 0123 sha1 4567 )
)
`

type redumpSite struct {
	csrf        string
	acceptLogin bool
	// omitCookie redirects after login without setting the member cookie.
	omitCookie bool
}

func (s redumpSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/forum/login/":
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "forum-session"})
			_, _ = io.WriteString(w, s.csrf)
			return
		}
		_ = r.ParseForm()
		c, err := r.Cookie("PHPSESSID")
		if err != nil || c.Value != "forum-session" || r.PostForm.Get("csrf_token") != "a1b2c3d4e5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !s.acceptLogin || r.PostForm.Get("req_password") != "hunter2" {
			_, _ = io.WriteString(w, "Wrong user/pass")
			return
		}
		if !s.omitCookie {
			http.SetCookie(w, &http.Cookie{Name: "redump_cookie", Value: "member-" + r.PostForm.Get("req_username")})
		}
		w.Header().Set("Location", r.PostForm.Get("redirect_url"))
		w.WriteHeader(http.StatusFound)

	case "/site/downloads/":
		_, _ = io.WriteString(w, downloadsPage)

	case "/datfile/psx/":
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="Sony - PlayStation - Datfile (10000) (2024-01-01).zip"`)
		_, _ = io.WriteString(w, "PK\x03\x04psx")

	case "/datfile/dc/":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, legacyDat)

	case "/datfile/private-only/":
		c, err := r.Cookie("redump_cookie")
		if err != nil || c.Value != "member-alice" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>login required</html>")
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = io.WriteString(w, "PK\x03\x04private")

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, site redumpSite) *Client {
	server := httptest.NewServer(site)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		ForumUrl: server.URL + "/forum/",
		SiteUrl:  server.URL + "/site/",
	}, &telemetry.Recorder{})
	require.NoError(t, err)
	return client
}

func TestAuthenticate(t *testing.T) {
	client := newTestClient(t, redumpSite{csrf: loginPage, acceptLogin: true})

	session, err := client.Authenticate(context.Background(), scraper.Credentials{
		Username: "alice",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, scraper.Session("member-alice"), session)
}

func TestAuthenticateRejected(t *testing.T) {
	client := newTestClient(t, redumpSite{csrf: loginPage, acceptLogin: true})

	_, err := client.Authenticate(context.Background(), scraper.Credentials{
		Username: "alice",
		Password: "wrong",
	})
	require.ErrorIs(t, err, scraper.ErrRejected)
}

func TestAuthenticateMissingSessionCookie(t *testing.T) {
	client := newTestClient(t, redumpSite{csrf: loginPage, acceptLogin: true, omitCookie: true})

	_, err := client.Authenticate(context.Background(), scraper.Credentials{
		Username: "alice",
		Password: "hunter2",
	})
	require.ErrorIs(t, err, scraper.ErrMissingSessionCookie)
}

func TestAuthenticateMissingCsrf(t *testing.T) {
	client := newTestClient(t, redumpSite{csrf: "<html>maintenance</html>", acceptLogin: true})

	_, err := client.Authenticate(context.Background(), scraper.Credentials{
		Username: "alice",
		Password: "hunter2",
	})
	require.ErrorIs(t, err, scraper.ErrMissingCsrf)
}

func TestLocate(t *testing.T) {
	client := newTestClient(t, redumpSite{})

	targets, err := client.Locate(context.Background(), "")
	require.NoError(t, err)

	names := make([]string, len(targets))
	for i, target := range targets {
		names[i] = target.Name
	}
	require.Equal(t, []string{"psx", "dc", "private-only"}, names)
	require.Contains(t, targets[0].Url, "/datfile/psx/")
}

func TestLocateEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body><p>nothing here</p></body></html>")
	}))
	defer server.Close()

	client, err := NewClient(Options{SiteUrl: server.URL + "/"}, &telemetry.Recorder{})
	require.NoError(t, err)

	targets, err := client.Locate(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestFetchArchive(t *testing.T) {
	client := newTestClient(t, redumpSite{})

	targets, err := client.Locate(context.Background(), "")
	require.NoError(t, err)

	resource, err := client.Fetch(context.Background(), targets[0], "")
	require.NoError(t, err)
	defer resource.Body.Close()

	require.Equal(t, "Sony - PlayStation - Datfile (10000) (2024-01-01).zip", resource.Filename)
	contents, err := io.ReadAll(resource.Body)
	require.NoError(t, err)
	require.Equal(t, "PK\x03\x04psx", string(contents))
}

func TestFetchConvertsLegacy(t *testing.T) {
	client := newTestClient(t, redumpSite{})

	targets, err := client.Locate(context.Background(), "")
	require.NoError(t, err)

	resource, err := client.Fetch(context.Background(), targets[1], "")
	require.NoError(t, err)
	defer resource.Body.Close()

	require.Equal(t, "redump-dc.dat", resource.Filename)
	contents, err := io.ReadAll(resource.Body)
	require.NoError(t, err)
	require.Equal(t, uint64(len(contents)), resource.Length)
	require.Contains(t, string(contents), "<homepage>redump.org</homepage>")
	require.Contains(t, string(contents), `<game name="Crazy Taxi (USA)">`)
	require.Contains(t, string(contents), "<category>Games</category>")
}

func TestFetchWithSession(t *testing.T) {
	client := newTestClient(t, redumpSite{})

	targets, err := client.Locate(context.Background(), "member-alice")
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), targets[2], "")
	require.ErrorIs(t, err, scraper.ErrUnexpectedContentType)

	resource, err := client.Fetch(context.Background(), targets[2], "member-alice")
	require.NoError(t, err)
	defer resource.Body.Close()
	require.Equal(t, "redump-private-only.zip", resource.Filename)
}

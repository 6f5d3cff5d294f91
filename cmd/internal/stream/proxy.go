package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamgate/cmd/internal/auth/session"
	"streamgate/cmd/internal/device"
)

// Verifier checks a presented session credential. Satisfied by
// *session.Manager.
type Verifier interface {
	Verify(ctx context.Context, token, deviceID string, now time.Time) (session.Verification, error)
}

// BytesProxied, when set, is called with the number of body bytes relayed
// for each proxied response.
type BytesProxied func(n int64)

const (
	// maxPlaylistBytes bounds how much of an origin playlist is buffered
	// for rewriting.
	maxPlaylistBytes = 4 << 20

	flushChunk = 32 << 10
)

// Proxy redeems sealed handles: it verifies the caller's session, opens the
// handle, fetches the origin, and relays bytes. Playlist responses are
// rewritten so nested references come back through the proxy as fresh
// handles; the origin URL itself never reaches the client.
type Proxy struct {
	log      *slog.Logger
	gate     *Gate
	verify   Verifier
	client   *http.Client
	playPath string
	counted  BytesProxied
}

// NewProxy builds a Proxy serving handles at playPath (for example
// "/stream/play"). client may be nil, in which case a default with a
// 30-second timeout is used. counted may be nil.
func NewProxy(log *slog.Logger, gate *Gate, verify Verifier, playPath string, client *http.Client, counted BytesProxied) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Proxy{
		log:      log,
		gate:     gate,
		verify:   verify,
		client:   client,
		playPath: playPath,
		counted:  counted,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	deviceID := requestDeviceID(r)
	v, err := p.verify.Verify(r.Context(), token, deviceID, time.Now().UTC())
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !v.Valid {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	handle := r.URL.Query().Get("h")
	var ref string
	if handle == "" {
		ref, err = p.resolveDefault(r.Context(), v.UserID)
	} else {
		ref, err = p.gate.Open(v.UserID, handle)
	}
	switch {
	case errors.Is(err, ErrNoStreamAssigned):
		http.Error(w, "no stream assigned", http.StatusNotFound)
		return
	case errors.Is(err, ErrBadHandle):
		http.Error(w, "bad handle", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	p.relay(w, r, v.UserID, ref)
}

// resolveDefault serves the no-handle case: the user's own assignment.
func (p *Proxy) resolveDefault(ctx context.Context, userID string) (string, error) {
	a, err := p.gate.dir.FindActiveByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.URL, nil
}

func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, userID, ref string) {
	base, err := url.Parse(ref)
	if err != nil {
		http.Error(w, "bad handle", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, ref, nil)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.LogAttrs(r.Context(), slog.LevelWarn, "stream.proxy.upstream_error",
			slog.String("user_id", userID),
		)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")

	if isPlaylist(base.Path, resp.Header.Get("Content-Type")) {
		p.relayPlaylist(w, r, userID, base, resp)
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" {
		h.Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		h.Set("Content-Range", cr)
	}
	w.WriteHeader(resp.StatusCode)

	n := copyFlushing(w, resp.Body)
	if p.counted != nil {
		p.counted(n)
	}
}

func (p *Proxy) relayPlaylist(w http.ResponseWriter, r *http.Request, userID string, base *url.URL, resp *http.Response) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes+1))
	if err != nil || len(body) > maxPlaylistBytes {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	out, err := p.rewritePlaylist(string(body), userID, base, authQuery(r))
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	n, _ := io.WriteString(w, out)
	if p.counted != nil {
		p.counted(int64(n))
	}
}

// rewritePlaylist replaces every media or nested-playlist reference with a
// proxy URL carrying a freshly sealed handle. Both plain URI lines and
// URI="..." tag attributes are covered.
func (p *Proxy) rewritePlaylist(body, userID string, base *url.URL, passthrough url.Values) (string, error) {
	var out strings.Builder
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64<<10), maxPlaylistBytes)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "#"):
			rewritten, err := p.rewriteTagURI(line, userID, base, passthrough)
			if err != nil {
				return "", err
			}
			out.WriteString(rewritten)
		case strings.TrimSpace(line) == "":
			out.WriteString(line)
		default:
			rewritten, err := p.sealReference(strings.TrimSpace(line), userID, base, passthrough)
			if err != nil {
				return "", err
			}
			out.WriteString(rewritten)
		}
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("stream: scan playlist: %w", err)
	}
	return out.String(), nil
}

// rewriteTagURI handles tags like #EXT-X-KEY:...,URI="...",... and
// #EXT-X-MEDIA:...,URI="...".
func (p *Proxy) rewriteTagURI(line, userID string, base *url.URL, passthrough url.Values) (string, error) {
	const marker = `URI="`
	start := strings.Index(line, marker)
	if start < 0 {
		return line, nil
	}
	start += len(marker)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line, nil
	}
	end += start
	rewritten, err := p.sealReference(line[start:end], userID, base, passthrough)
	if err != nil {
		return "", err
	}
	return line[:start] + rewritten + line[end:], nil
}

func (p *Proxy) sealReference(refLine, userID string, base *url.URL, passthrough url.Values) (string, error) {
	abs, err := base.Parse(refLine)
	if err != nil {
		return "", fmt.Errorf("stream: resolve playlist reference: %w", err)
	}
	handle, err := p.gate.envelope.Seal(userID, abs.String())
	if err != nil {
		return "", err
	}
	q := url.Values{}
	for k, vs := range passthrough {
		q[k] = vs
	}
	q.Set("h", handle)
	return p.playPath + "?" + q.Encode(), nil
}

// authQuery collects credentials that arrived as query parameters so that
// rewritten playlist entries stay fetchable by players that cannot set
// headers. Header-borne credentials are not copied into URLs.
func authQuery(r *http.Request) url.Values {
	q := r.URL.Query()
	out := url.Values{}
	if t := q.Get("token"); t != "" {
		out.Set("token", t)
	}
	if d := q.Get("device_id"); d != "" {
		out.Set("device_id", d)
	}
	return out
}

func isPlaylist(path, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(path), ".m3u8") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl")
}

// copyFlushing relays the body in chunks, flushing after each write so
// live segments reach the player without buffering delays.
func copyFlushing(w http.ResponseWriter, src io.Reader) int64 {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, flushChunk)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return total
		}
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func requestDeviceID(r *http.Request) string {
	supplied := r.Header.Get("X-Device-Id")
	if supplied == "" {
		supplied = r.URL.Query().Get("device_id")
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return device.FromRequest(supplied, r.UserAgent(), net.ParseIP(host))
}

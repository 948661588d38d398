// Package fakeindy is an in-process stand-in for the repository manager's
// folo admin and content APIs.
package fakeindy

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/commonjava/folofix/pkg/folo"
)

type Server struct {
	srv *httptest.Server

	mu            sync.Mutex
	sealed        []string
	reports       map[string][]byte
	reportStatus  map[string]int
	sealedStatus  int
	content       map[string][]byte
	contentStatus map[string]int
	hits          map[string]int
	gate          chan struct{}
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		reports:       map[string][]byte{},
		reportStatus:  map[string]int{},
		content:       map[string][]byte{},
		contentStatus: map[string]int{},
		hits:          map[string]int{},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/api/folo/admin/report/ids/sealed", s.listSealed)
	e.GET("/api/folo/admin/:id/record", s.getRecord)
	e.GET("/*", s.getContent)

	s.srv = httptest.NewServer(e)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) URL() url.URL {
	u, _ := url.Parse(s.srv.URL)
	return *u
}

// AddReport registers a sealed report.
func (s *Server) AddReport(t testing.TB, report folo.TrackingReport) {
	b, err := json.Marshal(report)
	require.NoError(t, err)
	s.AddRawReport(report.Key.ID, b)
}

func (s *Server) AddRawReport(id string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = append(s.sealed, id)
	s.reports[id] = raw
}

// SealID lists an ID as sealed without a backing report.
func (s *Server) SealID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = append(s.sealed, id)
}

func (s *Server) FailReport(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportStatus[id] = status
}

func (s *Server) FailSealed(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealedStatus = status
}

// SetContent serves data at path along with .md5 and .sha1 sidecars.
func (s *Server) SetContent(path string, data []byte) {
	m, s1 := Digests(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[path] = data
	s.content[path+".md5"] = []byte(m)
	s.content[path+".sha1"] = []byte(s1)
}

// SetRaw serves data at path without sidecars.
func (s *Server) SetRaw(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[path] = data
}

func (s *Server) FailContent(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentStatus[path] = status
}

// Gate makes content requests block until the returned func is called.
func (s *Server) Gate() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Hits is the number of requests seen for path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) listSealed(c echo.Context) error {
	s.mu.Lock()
	status := s.sealedStatus
	ids := append([]string{}, s.sealed...)
	s.mu.Unlock()

	if status != 0 {
		return c.String(status, "sealed listing unavailable")
	}
	return c.JSON(http.StatusOK, map[string][]string{"sealed": ids})
}

func (s *Server) getRecord(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	s.hits[c.Request().URL.Path]++
	status := s.reportStatus[id]
	raw, ok := s.reports[id]
	s.mu.Unlock()

	if status != 0 {
		return c.String(status, "record unavailable")
	}
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, raw)
}

func (s *Server) getContent(c echo.Context) error {
	path := c.Request().URL.Path
	s.mu.Lock()
	s.hits[path]++
	gate := s.gate
	status := s.contentStatus[path]
	data, ok := s.content[path]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	if status != 0 {
		return c.NoContent(status)
	}
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}

// Digests returns the lowercase hex md5 and sha1 of data.
func Digests(data []byte) (md5Hex, sha1Hex string) {
	m := md5.Sum(data)
	s := sha1.Sum(data)
	return hex.EncodeToString(m[:]), hex.EncodeToString(s[:])
}

// Entry builds an artifact entry whose recorded size and digests match data.
func Entry(storeKey, path string, data []byte) folo.ArtifactEntry {
	key, err := folo.ParseStoreKey(storeKey)
	if err != nil {
		panic(err)
	}
	m, s := Digests(data)
	return folo.ArtifactEntry{
		StoreKey: key,
		Path:     path,
		Size:     int64(len(data)),
		MD5:      m,
		SHA1:     s,
	}
}

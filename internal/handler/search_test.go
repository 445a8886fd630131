package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"

	"eclipse-api-go/internal/model"
	"eclipse-api-go/internal/service"
)

type fakeIndex struct {
	games []model.Game
	err   error
	match string
	sys   string
}

func (f *fakeIndex) Search(_ context.Context, match, system string) ([]model.Game, error) {
	f.match, f.sys = match, system
	return f.games, f.err
}

func newSearchHandler(idx *fakeIndex) *SearchHandler {
	logger := discardLogger()
	return NewSearchHandler(service.NewSearchServiceWithIndex(idx, logger, nil), logger)
}

func doSearch(t *testing.T, h *SearchHandler, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/boxart?"+query.Encode(), http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Boxart(c); err != nil {
		t.Fatalf("Boxart() error = %v", err)
	}
	return rec
}

func TestSearchHandler_Boxart(t *testing.T) {
	idx := &fakeIndex{games: []model.Game{{
		Name:   "The Legend of Zelda: The Minish Cap",
		Boxart: "https://img.example/minish.jpg",
		System: "GBA",
		Region: "Europe",
	}}}
	h := newSearchHandler(idx)

	rec := doSearch(t, h, url.Values{"q": {"Minish Cap"}, "system": {"gba"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if idx.match != "minish AND cap" {
		t.Errorf("match = %q, want %q", idx.match, "minish AND cap")
	}
	if idx.sys != "gba" {
		t.Errorf("system = %q, want %q", idx.sys, "gba")
	}

	var games []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &games); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("games = %d, want 1", len(games))
	}
	want := map[string]string{
		"name":   "The Legend of Zelda: The Minish Cap",
		"boxart": "https://img.example/minish.jpg",
		"system": "GBA",
		"region": "Europe",
	}
	for k, v := range want {
		if games[0][k] != v {
			t.Errorf("game.%s = %q, want %q", k, games[0][k], v)
		}
	}
}

func TestSearchHandler_EmptyResultIsArray(t *testing.T) {
	h := newSearchHandler(&fakeIndex{games: []model.Game{}})

	for _, q := range []string{"zelda", "***"} {
		rec := doSearch(t, h, url.Values{"q": {q}})
		if rec.Code != http.StatusOK {
			t.Fatalf("q=%q: status = %d, want %d", q, rec.Code, http.StatusOK)
		}
		if got := rec.Body.String(); got != "[]\n" {
			t.Errorf("q=%q: body = %q, want %q", q, got, "[]\n")
		}
	}
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	h := newSearchHandler(&fakeIndex{})

	rec := doSearch(t, h, url.Values{"system": {"gba"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorBody(t, rec); got != "missing query param" {
		t.Errorf("error = %q, want %q", got, "missing query param")
	}
}

func TestSearchHandler_IndexError(t *testing.T) {
	h := newSearchHandler(&fakeIndex{err: errors.New("no such table: releases_fts")})

	rec := doSearch(t, h, url.Values{"q": {"zelda"}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if got := errorBody(t, rec); got != "internal error" {
		t.Errorf("error = %q, want %q", got, "internal error")
	}
}

package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginInstallsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/login" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(loginResponse{Token: "tok123"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	token, err := c.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "tok123" || c.Token() != "tok123" {
		t.Fatalf("token = %q, client token = %q", token, c.Token())
	}
}

func TestGetFileDecodesMultipartText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())

		metaPart, _ := mw.CreateFormField("metadata")
		json.NewEncoder(metaPart).Encode(map[string]any{
			"id":            1,
			"workspacePath": "a.md",
			"mimeType":      "text/markdown",
			"hash":          "abc",
			"version":       3,
		})

		filePart, _ := mw.CreateFormFile("file", "a.md")
		filePart.Write([]byte("lorem ipsum"))

		mw.Close()
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	f, err := c.GetFile(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.Text != "lorem ipsum" || f.Version != 3 || f.WorkspacePath != "a.md" {
		t.Fatalf("got %+v", f)
	}
}

func TestGetOperationsDecodesHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fileId"); got != "1" {
			t.Fatalf("fileId = %q", got)
		}
		if got := r.URL.Query().Get("from"); got != "3" {
			t.Fatalf("from = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"fileId":1,"version":4,"operation":[{"type":"add","position":0,"text":"Z","len":1}]}]`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	ops, err := c.GetOperations(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("GetOperations: %v", err)
	}
	if len(ops) != 1 || ops[0].Version != 4 {
		t.Fatalf("got %+v", ops)
	}
}

func TestDeleteFileRequiresNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	if err := c.DeleteFile(context.Background(), 1); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
}

func TestDeleteFileTranslatesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	err := c.DeleteFile(context.Background(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteFile err = %v, want ErrNotFound", err)
	}
}

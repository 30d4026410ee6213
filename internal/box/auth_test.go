package box

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/httpclient"
)

func writeCredentials(t *testing.T, creds OAuth2Credentials) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "box_credentials.json")
	if err := SaveCredentialsToFile(&creds, path); err != nil {
		t.Fatalf("Failed to write credentials: %v", err)
	}
	return path
}

func TestLoadCredentialsFromFile(t *testing.T) {
	path := writeCredentials(t, OAuth2Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "r1"})
	creds, err := LoadCredentialsFromFile(path)
	if err != nil {
		t.Fatalf("LoadCredentialsFromFile failed: %v", err)
	}
	if creds.RefreshToken != "r1" {
		t.Errorf("Unexpected credentials %+v", creds)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %o", info.Mode().Perm())
	}

	empty := writeCredentials(t, OAuth2Credentials{ClientID: "id"})
	if _, err := LoadCredentialsFromFile(empty); err == nil {
		t.Error("Expected error when no token is present")
	}
}

func TestAuthenticatorRefreshesAndPersists(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "r1" {
			t.Errorf("Unexpected form %v", r.Form)
		}
		io.WriteString(w, `{"access_token":"a2","refresh_token":"r2","expires_in":3600,"token_type":"bearer"}`)
	}))
	defer server.Close()

	path := writeCredentials(t, OAuth2Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "r1"})
	creds, _ := LoadCredentialsFromFile(path)
	auth := NewOAuth2Authenticator(creds, path, server.URL, nil)

	for i := 0; i < 2; i++ {
		header, err := auth.AuthorizationHeader(context.Background())
		if err != nil {
			t.Fatalf("AuthorizationHeader failed: %v", err)
		}
		if header != "Bearer a2" {
			t.Errorf("Unexpected header %q", header)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected one refresh, got %d", calls)
	}

	data, _ := os.ReadFile(path)
	var saved OAuth2Credentials
	json.Unmarshal(data, &saved)
	if saved.RefreshToken != "r2" || saved.AccessToken != "a2" {
		t.Errorf("Expected rotated tokens to be saved, got %+v", saved)
	}
}

func TestAuthenticatorRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant","error_description":"Refresh token has expired"}`)
	}))
	defer server.Close()

	auth := NewOAuth2Authenticator(&OAuth2Credentials{RefreshToken: "old"}, "", server.URL, nil)
	_, err := auth.AuthorizationHeader(context.Background())

	var boxErr *BoxError
	if !errors.As(err, &boxErr) || boxErr.Code != "invalid_grant" {
		t.Errorf("Expected invalid_grant BoxError, got %v", err)
	}
}

func TestClientRetriesOnceAfterUnauthorized(t *testing.T) {
	var tokenCalls int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&tokenCalls, 1)
		if n == 1 {
			io.WriteString(w, `{"access_token":"stale","refresh_token":"r2","expires_in":3600}`)
			return
		}
		io.WriteString(w, `{"access_token":"fresh","refresh_token":"r3","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"total_count":0,"entries":[]}`)
	}))
	defer apiServer.Close()

	auth := NewOAuth2Authenticator(&OAuth2Credentials{RefreshToken: "r1"}, "", tokenServer.URL, nil)
	client := NewClient(httpclient.New(httpclient.Config{Timeout: 5 * time.Second}), auth, apiServer.URL, apiServer.URL, "https://app.box.com/folder")

	if _, err := client.ListFolderItems(context.Background(), "0"); err != nil {
		t.Fatalf("Expected retry with fresh token to succeed, got %v", err)
	}
	if atomic.LoadInt32(&tokenCalls) != 2 {
		t.Errorf("Expected two token refreshes, got %d", tokenCalls)
	}
}

func TestNewClientFromConfig(t *testing.T) {
	path := writeCredentials(t, OAuth2Credentials{RefreshToken: "r1"})
	retry := httpclient.New(httpclient.Config{})

	if _, err := NewClientFromConfig(config.BoxConfig{CredentialsFile: path}, retry); err == nil {
		t.Error("Expected error without client id and secret")
	}

	client, err := NewClientFromConfig(config.BoxConfig{
		ClientID:        "id",
		ClientSecret:    "secret",
		CredentialsFile: path,
		BaseURL:         "https://api.box.com/2.0",
		UploadURL:       "https://upload.box.com/api/2.0",
		TokenURL:        "https://api.box.com/oauth2/token",
		FolderLinkBase:  "https://app.box.com/folder",
	}, retry)
	if err != nil {
		t.Fatalf("NewClientFromConfig failed: %v", err)
	}
	if client.FolderLink("9") != "https://app.box.com/folder/9" {
		t.Errorf("Unexpected link %s", client.FolderLink("9"))
	}
}

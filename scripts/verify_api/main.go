package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/mahaj/pulse/pkg/api"
	"github.com/mahaj/pulse/pkg/model"
	"go.uber.org/zap"
)

// get performs an authenticated GET and returns the status and body.
func get(apiAddr, token, path string) (int, string, error) {
	req, err := http.NewRequest(http.MethodGet, apiAddr+path, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	user := flag.String("user", "userA", "user to log in as")
	peer := flag.String("peer", "userB", "direct chat peer")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	// 1. Login
	reqBody, _ := json.Marshal(api.LoginRequest{UserID: *user})
	resp, err := http.Post(*apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal("login request failed", zap.Error(err))
	}
	defer resp.Body.Close()

	var loginResp api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal("decode login response", zap.Error(err))
	}
	log.Info("logged in", zap.String("user", *user))

	// 2. Walk the read endpoints
	paths := []string{
		"/history?chat_id=" + model.DMChannelID(*user, *peer) + "&limit=20",
		"/notifications?limit=20",
		"/presence",
	}
	failed := 0
	for _, path := range paths {
		status, body, err := get(*apiAddr, loginResp.Token, path)
		if err != nil {
			log.Fatal("request failed", zap.String("path", path), zap.Error(err))
		}
		fields := []zap.Field{zap.String("path", path), zap.Int("status", status), zap.String("body", body)}
		if status != http.StatusOK {
			failed++
			log.Warn("unexpected status", fields...)
			continue
		}
		log.Info("ok", fields...)
	}
	if failed > 0 {
		log.Fatal(fmt.Sprintf("%d of %d checks failed", failed, len(paths)))
	}
}

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/pulse/pkg/api"
	"github.com/mahaj/pulse/pkg/model"
	"go.uber.org/zap"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(api.LoginRequest{UserID: userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func postAction(apiAddr, token string, action api.ActionRequest) error {
	body, _ := json.Marshal(action)
	req, err := http.NewRequest(http.MethodPost, apiAddr+"/actions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("action refused: %s %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func send(c *websocket.Conn, event string, data any) error {
	return c.WriteJSON(map[string]any{"event": event, "data": data})
}

func render(f frame) string {
	switch f.Event {
	case model.EventUsersOnline:
		var online []string
		_ = json.Unmarshal(f.Data, &online)
		return "online: " + strings.Join(online, ", ")
	case model.EventGetMessage:
		var m model.Message
		_ = json.Unmarshal(f.Data, &m)
		return fmt.Sprintf("%s: %s  (#%d)", m.SenderID, m.Content, m.ID)
	case model.EventMessageSent:
		var m model.Message
		_ = json.Unmarshal(f.Data, &m)
		return fmt.Sprintf("sent #%d to %s", m.ID, strings.Join(m.Recipients, ", "))
	case model.EventGetNotification:
		var n model.NotificationEvent
		_ = json.Unmarshal(f.Data, &n)
		return fmt.Sprintf("[%s] from %s on %s  (#%d)", n.Type, n.SenderID, n.SubjectRef, n.ID)
	case model.EventError:
		var e model.ErrorPayload
		_ = json.Unmarshal(f.Data, &e)
		return fmt.Sprintf("error %s: %s", e.Code, e.Message)
	case model.EventNotification:
		// unread hint, the full message is printed separately
		return ""
	}
	return fmt.Sprintf("%s %s", f.Event, f.Data)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	to := flag.String("to", "", "user id to message")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	// 1. Login to get token
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("login failed", zap.Error(err))
	}

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial failed", zap.String("url", u.String()), zap.Error(err))
	}
	defer c.Close()

	if err := send(c, model.EventIdentify, map[string]string{"userId": *userID}); err != nil {
		log.Fatal("identify failed", zap.Error(err))
	}

	done := make(chan struct{})

	// 3. Print server events
	go func() {
		defer close(done)
		for {
			var f frame
			if err := c.ReadJSON(&f); err != nil {
				log.Info("connection closed", zap.Error(err))
				return
			}
			if line := render(f); line != "" {
				fmt.Printf("\r%s\n> ", line)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})

	// 4. Read commands from stdin
	go func() {
		defer close(quit)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			fields := strings.Fields(text)
			var err error
			switch {
			case text == "":
			case text == "/quit":
				return
			case fields[0] == "/read" && len(fields) == 2:
				var id int64
				if id, err = strconv.ParseInt(fields[1], 10, 64); err == nil {
					err = send(c, model.EventMarkRead, map[string]int64{"id": id})
				}
			case fields[0] == "/to" && len(fields) == 2:
				*to = fields[1]
			case fields[0] == "/like" && len(fields) == 3:
				err = postAction(*apiAddr, token, api.ActionRequest{Type: model.NotificationLike, RecipientID: fields[1], SubjectRef: fields[2]})
			case *to == "":
				fmt.Println("no recipient, use -to or /to <user>")
			default:
				err = send(c, model.EventSendMessage, map[string]string{"recipientUserId": *to, "content": text})
			}
			if err != nil {
				log.Warn("command failed", zap.String("command", text), zap.Error(err))
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
		return
	case <-quit:
	case <-interrupt:
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Warn("write close", zap.Error(err))
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

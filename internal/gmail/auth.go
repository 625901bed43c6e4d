package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	config, err := google.ConfigFromJSON(creds, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	return config, nil
}

func loadToken(tokenFile string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parsing cached token: %w", err)
	}
	return &token, nil
}

func saveToken(tokenFile string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(tokenFile, data, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Authorize runs the interactive browser consent flow. It blocks until the
// loopback redirect delivers an authorization code or ctx is done, then
// exchanges the code and caches the token for future runs. The browser
// callback mechanics stay hidden behind this single call.
func Authorize(ctx context.Context, credentialsFile, tokenFile string) error {
	config, err := oauthConfig(credentialsFile)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("starting redirect listener: %w", err)
	}
	defer listener.Close()

	config.RedirectURL = fmt.Sprintf("http://%s/", listener.Addr().String())

	codeCh := make(chan string, 1)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this tab.")
		select {
		case codeCh <- code:
		default:
		}
	})}
	go server.Serve(listener)
	defer server.Close()

	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline)
	fmt.Printf("Visit this URL to authorize Gmail access:\n%s\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case <-ctx.Done():
		return &AuthError{Err: fmt.Errorf("waiting for consent: %w", ctx.Err())}
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return &AuthError{Err: fmt.Errorf("exchanging code: %w", err)}
	}

	return saveToken(tokenFile, token)
}

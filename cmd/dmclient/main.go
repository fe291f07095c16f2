package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gopherdm/internal/client"
	"gopherdm/internal/client/syncview"
	"gopherdm/internal/model"
	"gopherdm/internal/pkg/content"
	"gopherdm/internal/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("DM_SERVER", "http://127.0.0.1:8080"), "server base url")
	username := flag.String("user", os.Getenv("DM_USER"), "username")
	password := flag.String("password", os.Getenv("DM_PASSWORD"), "password")
	register := flag.Bool("register", false, "register the user before logging in")
	peerName := flag.String("peer", "", "username to open a conversation with")
	debug := flag.Bool("debug", false, "log discarded events and stream diagnostics")
	flag.Parse()

	if *username == "" || *password == "" || *peerName == "" {
		flag.Usage()
		os.Exit(2)
	}

	zlog, err := logger.New(levelFor(*debug), true)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(*server)
	authCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if *register {
		if _, err := api.Register(authCtx, *username, *password); err != nil {
			log.Fatalf("register failed: %v", err)
		}
	} else if _, err := api.Login(authCtx, *username, *password); err != nil {
		log.Fatalf("login failed: %v", err)
	}
	me := api.User()

	peer, err := api.SearchUser(authCtx, *peerName)
	if errors.Is(err, client.ErrNotFound) {
		log.Fatalf("no user named %q", *peerName)
	}
	if err != nil {
		log.Fatalf("lookup %q failed: %v", *peerName, err)
	}

	stream, err := client.DialStream(ctx, api, zlog)
	if err != nil {
		log.Fatalf("connect stream failed: %v", err)
	}
	defer stream.Close()

	view := syncview.New(me.ID, api, stream, zlog)
	out := &printer{me: me, peer: *peer}
	view.OnChange(func() { out.render(view.Messages()) })

	if err := view.Open(ctx, peer.ID); err != nil {
		log.Fatalf("load conversation failed: %v", err)
	}
	fmt.Printf("-- chatting with %s; /image <path> [caption] sends an image, /quit exits --\n", peer.Username)

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			log.Printf("stream closed: %v", stream.Err())
			return
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return
			}
			body, err := compose(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "! %v\n", err)
				continue
			}
			if body == "" {
				continue
			}
			msg, err := api.Send(ctx, peer.ID, body)
			if err != nil {
				fmt.Fprintf(os.Stderr, "! send failed: %v\n", err)
				continue
			}
			view.ApplyOwn(*msg)
		}
	}
}

// printer prints each message once, in view order.
type printer struct {
	me   model.User
	peer model.User

	mu      sync.Mutex
	printed map[uint]struct{}
}

func (p *printer) render(messages []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed == nil {
		p.printed = make(map[uint]struct{})
	}
	for _, m := range messages {
		if _, done := p.printed[m.ID]; done {
			continue
		}
		p.printed[m.ID] = struct{}{}

		who := p.peer.Username
		if m.SenderID == p.me.ID {
			who = p.me.Username
		}
		parts := content.Parse(m.Content)
		text := parts.Text
		if parts.HasImage() {
			text = strings.TrimSpace("[image] " + text)
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, text)
	}
}

func compose(line string) (string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/image ") {
		return line, nil
	}

	fields := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "/image ")), " ", 2)
	data, err := os.ReadFile(fields[0])
	if err != nil {
		return "", fmt.Errorf("read image failed: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", fields[0], mime)
	}

	body := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	if len(fields) == 2 {
		body += "\n" + fields[1]
	}
	return body, nil
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func levelFor(debug bool) string {
	if debug {
		return "debug"
	}
	return "warn"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/chat"
	"github.com/Vedant1607/QuickChat/internal/client"
)

const usage = `commands:
  signup <email> <password> <full name...>   create an account and connect
  login <email> <password>                   log in and connect
  users                                      list peers with unseen counts
  open <user-id>                             open a conversation
  close                                      close the open conversation
  say <text...>                              send text to the open conversation
  image <data-url>                           send an image to the open conversation
  online                                     show who is online
  logout                                     disconnect and forget the session
  quit`

func main() {
	logrus.SetLevel(logrus.WarnLevel)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := logrus.ParseLevel(v); err == nil {
			logrus.SetLevel(l)
		}
	}

	baseURL := "http://localhost:5000"
	if v := os.Getenv("QUICKCHAT_URL"); v != "" {
		baseURL = v
	}

	sess := client.NewSession(baseURL)
	sess.OnEvent(func(kind string) {
		switch kind {
		case client.EventOnline:
			fmt.Printf("* online: %s\n", strings.Join(sess.State().Online(), ", "))
		case client.EventNewMessage:
			printConversation(sess)
			printUnseen(sess)
		case client.EventDisconnected:
			fmt.Println("* disconnected")
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sess.Logout()
		os.Exit(0)
	}()

	fmt.Println(usage)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			break
		}
		if err := run(sess, fields[0], fields[1:]); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	sess.Logout()
}

func run(sess *client.Session, cmd string, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	switch cmd {
	case "signup":
		if len(args) < 3 {
			return fmt.Errorf("usage: signup <email> <password> <full name...>")
		}
		err := sess.Signup(ctx, auth.SignupRequest{
			Email:    args[0],
			Password: args[1],
			FullName: strings.Join(args[2:], " "),
			Bio:      "Hey there, I am using QuickChat",
		})
		if err != nil {
			return err
		}
		return connect(ctx, sess)

	case "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: login <email> <password>")
		}
		if err := sess.Login(ctx, args[0], args[1]); err != nil {
			return err
		}
		return connect(ctx, sess)

	case "users":
		if err := sess.LoadSidebar(ctx); err != nil {
			return err
		}
		unseen := sess.State().Unseen()
		for _, u := range sess.State().Users() {
			status := "offline"
			if sess.State().IsOnline(u.ID) {
				status = "online"
			}
			fmt.Printf("  %s  %-20s %-7s unseen=%d\n", u.ID, u.FullName, status, unseen[u.ID])
		}
		return nil

	case "open":
		if len(args) != 1 {
			return fmt.Errorf("usage: open <user-id>")
		}
		if err := sess.OpenConversation(ctx, args[0]); err != nil {
			return err
		}
		printConversation(sess)
		return nil

	case "close":
		sess.CloseConversation()
		return nil

	case "say", "image":
		peer := sess.State().OpenPeer()
		if peer == "" {
			return fmt.Errorf("no conversation open")
		}
		content := chat.Content{Text: strings.Join(args, " ")}
		if cmd == "image" {
			content = chat.Content{Image: strings.Join(args, "")}
		}
		msg, err := sess.Send(ctx, peer, content)
		if err != nil {
			return err
		}
		fmt.Printf("  sent %s\n", msg.ID)
		return nil

	case "online":
		fmt.Printf("  %s\n", strings.Join(sess.State().Online(), ", "))
		return nil

	case "logout":
		sess.Logout()
		return nil

	case "help":
		fmt.Println(usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func connect(ctx context.Context, sess *client.Session) error {
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	if self := sess.Self(); self != nil {
		fmt.Printf("* logged in as %s (%s)\n", self.FullName, self.ID)
	}
	return sess.LoadSidebar(ctx)
}

func printConversation(sess *client.Session) {
	peer := sess.State().OpenPeer()
	if peer == "" {
		return
	}
	self := sess.Self()
	for _, m := range sess.State().Messages() {
		who := "them"
		if self != nil && m.SenderID == self.ID {
			who = "me"
		}
		body := m.Text
		if m.Image != "" {
			body = "[image] " + m.Image
		}
		fmt.Printf("  %s %-4s %s\n", m.CreatedAt.Format("15:04"), who, body)
	}
}

func printUnseen(sess *client.Session) {
	for peer, n := range sess.State().Unseen() {
		fmt.Printf("* %d unseen from %s\n", n, peer)
	}
}

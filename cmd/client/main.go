// Command sg-client is a small CLI for exercising a running sg-server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sg-client [-server URL] <command> [flags]

commands:
  register    -email -password [-nick] [-name]
  login       -email -password
  logout      -token
  deactivate  [-nick] [-email]`)
	os.Exit(2)
}

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	var (
		path string
		body map[string]string
	)
	switch args[0] {
	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		nick := fs.String("nick", "", "nick (defaults to email)")
		name := fs.String("name", "", "display name")
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args[1:])
		path = "/v1/register"
		body = map[string]string{"nick": *nick, "name": *name, "email": *email, "password": *password}
	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args[1:])
		path = "/v1/login"
		body = map[string]string{"email": *email, "password": *password}
	case "logout":
		fs := flag.NewFlagSet("logout", flag.ExitOnError)
		token := fs.String("token", "", "login token")
		_ = fs.Parse(args[1:])
		path = "/v1/logout"
		body = map[string]string{"token": *token}
	case "deactivate":
		fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
		nick := fs.String("nick", "", "nick")
		email := fs.String("email", "", "email")
		_ = fs.Parse(args[1:])
		path = "/v1/deactivate"
		body = map[string]string{"nick": *nick, "email": *email}
	default:
		usage()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode request:", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(*server+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read response:", err)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Printf("%s %s\n%s\n", resp.Status, path, out)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

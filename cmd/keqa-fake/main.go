// Command keqa-fake serves an in-memory Knowledge Engine for running keqa
// locally.
//
//	keqa-fake [port]
//	keqa-fake hash-token
//
// hash-token reads a token without echo and prints its argon2id hash for
// KEQA_FAKE_TOKEN_HASH. KEQA_AUTH_TOKEN sets a plain token instead.
//
// KEQA_FAKE_FAULTS takes a comma-separated list of faults to inject:
// fail-jobs, never-complete, phantom-links, unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/thruflo/keqa/internal/fakeengine"
	"github.com/thruflo/keqa/internal/logging"
)

const defaultPort = 8001

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		if err := hashToken(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	port := defaultPort
	if len(os.Args) > 1 {
		p, err := strconv.Atoi(os.Args[1])
		if err != nil || p <= 0 || p > 65535 {
			fmt.Fprintf(os.Stderr, "invalid port %q\n", os.Args[1])
			os.Exit(2)
		}
		port = p
	}

	faults, err := parseFaults(os.Getenv("KEQA_FAKE_FAULTS"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New()
	logger.SetLevel(logging.LevelDebug)

	engine := fakeengine.New(fakeengine.Options{
		Port:          port,
		AuthToken:     os.Getenv("KEQA_AUTH_TOKEN"),
		AuthTokenHash: os.Getenv("KEQA_FAKE_TOKEN_HASH"),
		Faults:        faults,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Fake engine running on http://localhost:%d\n", engine.Port())
	fmt.Println("\nTry:")
	fmt.Printf("  KEQA_BASE_URL=http://localhost:%d keqa run\n", engine.Port())

	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to serve: %v\n", err)
		os.Exit(1)
	}
}

func hashToken() error {
	fmt.Print("Token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if len(token) == 0 {
		return errors.New("token cannot be empty")
	}

	hash, err := fakeengine.HashToken(string(token))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func parseFaults(s string) (fakeengine.Faults, error) {
	var f fakeengine.Faults
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "":
		case "fail-jobs":
			f.FailJobs = true
		case "never-complete":
			f.NeverComplete = true
		case "phantom-links":
			f.PhantomLinks = true
		case "unavailable":
			f.Unavailable = true
		case "unlinked-articles":
			f.UnlinkedArticles = true
		default:
			return f, fmt.Errorf("unknown fault %q", name)
		}
	}
	return f, nil
}

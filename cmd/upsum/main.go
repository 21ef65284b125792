// Upsum computes and verifies Unpod integrity digests from the command
// line, for debugging a client or backend that disagrees about a
// checksum.
//
// Usage:
//
//	upsum --method POST --url spaces/ --data '{"name":"Test"}' --secret s3cret
//	upsum -m GET -u /api/v1/agents --data '{"page":1}' -s s3cret --verify <digest> -t <timestamp>
//
// The data argument is canonicalized before signing; pass @file to read
// it from a file. Without --timestamp the current time is used and the
// generated timestamp is printed alongside the digest. With --verify the
// exit status reports the result: 0 for a match, 1 for a mismatch.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"

	platform "go.unpod.dev/platform-sdk"
	"go.unpod.dev/platform-sdk/internal/client"
	"go.unpod.dev/platform-sdk/pkg/canonical"
	"go.unpod.dev/platform-sdk/pkg/checksum"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "upsum: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("upsum", pflag.ContinueOnError)
	method := flags.StringP("method", "m", "GET", "HTTP method of the envelope")
	rawURL := flags.StringP("url", "u", "", "request path; API prefixes and query string are stripped")
	data := flags.StringP("data", "d", "", "payload, canonicalized before signing; @file reads from a file")
	timestamp := flags.StringP("timestamp", "t", "", "envelope timestamp; defaults to the current time")
	secret := flags.StringP("secret", "s", "", "shared secret; defaults to CHECKSUM_SECRET")
	configPath := flags.StringP("config", "c", "", "YAML config file providing secret and prefixes")
	verify := flags.String("verify", "", "digest to verify instead of printing a new one")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := &client.Config{}
	if *configPath != "" {
		option, err := platform.FromFile(*configPath)
		if err != nil {
			return err
		}
		option(cfg)
	}
	platform.FromEnv()(cfg)
	if *secret != "" {
		cfg.Secret = *secret
	}
	if cfg.Secret == "" {
		return fmt.Errorf("no secret: pass --secret, set CHECKSUM_SECRET, or provide a config file")
	}

	payload := *data
	if strings.HasPrefix(payload, "@") {
		raw, err := os.ReadFile(payload[1:])
		if err != nil {
			return err
		}
		payload = string(raw)
	}
	payload = canonical.CanonicalizeText(payload)

	ts := *timestamp
	if ts == "" {
		ts = checksum.Timestamp(clock.New())
	}

	relativeURL := checksum.RelativeURL(*rawURL, cfg.APIPrefixes)
	digest := checksum.Compute(*method, relativeURL, payload, ts, cfg.Secret)

	if *verify != "" {
		if !checksum.Verify(*method, relativeURL, payload, ts, *verify, cfg.Secret) {
			fmt.Printf("mismatch\nexpected: %s\nreceived: %s\n", digest, *verify)
			os.Exit(1)
		}
		fmt.Println("ok")
		return nil
	}

	fmt.Printf("%s: %s\n", checksum.HeaderChecksum, digest)
	fmt.Printf("%s: %s\n", checksum.HeaderTimestamp, ts)
	return nil
}

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a captured backend response signature",
	Long: `Check a response captured elsewhere against the configured verification
mode and root key. Headers that were absent from the response should be
left unset rather than passed empty.`,
	Example: `  entitlements verify --path /v1/subscribers/abc \
    --signature "$SIG" --nonce "$NONCE" --request-time 1714564800000 \
    --body-file response.json`,
	RunE: runners.Config().Wrap(runVerify),
}

func init() {
	f := verifyCmd.Flags()
	f.String("path", "", "Request path the response belongs to")
	f.String("signature", "", "X-Signature header value")
	f.String("nonce", "", "Base64 nonce sent with the request")
	f.String("request-time", "", "X-Request-Time header value")
	f.String("etag", "", "ETag header value")
	f.String("body", "", "Response body")
	f.String("body-file", "", "Read the response body from a file ('-' for stdin)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	in := verification.VerifyInput{
		Path:        flags.String("path"),
		Signature:   optionalFlag(flags, "signature"),
		Nonce:       optionalFlag(flags, "nonce"),
		RequestTime: optionalFlag(flags, "request-time"),
		ETag:        optionalFlag(flags, "etag"),
		Body:        optionalFlag(flags, "body"),
	}
	bodyFile := flags.String("body-file")
	if err := flags.Err(); err != nil {
		return err
	}
	if bodyFile != "" {
		body, err := readBody(cmd, bodyFile)
		if err != nil {
			return err
		}
		in.Body = &body
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	result := a.Engine.Verify(in)
	PrintInfo("Mode:   %s", a.Engine.Mode())
	PrintInfo("Result: %s", result)

	if result == verification.ResultFailed && a.Engine.Mode().IsEnforced() {
		return apperrors.ErrSignatureVerificationFailed
	}
	return nil
}

func optionalFlag(flags *runner.FlagSet, name string) *string {
	if !flags.Changed(name) {
		return nil
	}
	v := flags.String(name)
	return &v
}

func readBody(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(data), nil
}

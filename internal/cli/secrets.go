package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"flui/internal/config"
	"flui/internal/telemetry"
)

// SSMClient is the subset of the SSM API used by the secrets commands.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ssmOperationTimeout bounds each Parameter Store call.
const ssmOperationTimeout = 15 * time.Second

// tokenByteLength is the entropy of generated keys (hex-encoded to 64 chars).
const tokenByteLength = 32

// secretSpec maps a deployment secret to its Parameter Store location. The
// deployed service reads it through <EnvVar>_SSM_PARAM.
type secretSpec struct {
	EnvVar   string
	Path     string // category/key below /{env}/flui/
	Generate bool   // may be generated instead of entered
}

var knownSecrets = map[string]secretSpec{
	"service-api-key":       {EnvVar: "SERVICE_API_KEY", Path: "security/service_api_key", Generate: true},
	"database-url":          {EnvVar: "DATABASE_URL", Path: "database/url"},
	"stripe-secret-key":     {EnvVar: "STRIPE_SECRET_KEY", Path: "billing/stripe_secret_key"},
	"stripe-webhook-secret": {EnvVar: "STRIPE_WEBHOOK_SECRET", Path: "billing/stripe_webhook_secret"},
}

func secretNames() []string {
	names := make([]string, 0, len(knownSecrets))
	for n := range knownSecrets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ssmPath builds /{env}/flui/{category}/{key}.
func ssmPath(env, categoryAndKey string) string {
	return fmt.Sprintf("/%s/flui/%s", env, categoryAndKey)
}

// generateToken returns a hex-encoded random key.
func generateToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func defaultSSMClient(ctx context.Context) (SSMClient, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := telemetry.LoadAWSConfig(ctx, config.AWSConfig{
		Region:      region,
		EndpointURL: os.Getenv("AWS_ENDPOINT_URL"),
	})
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(awsCfg), nil
}

func newSecretsCmd(o *Options) *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage deployment secrets in SSM Parameter Store",
	}
	cmd.PersistentFlags().StringVar(&env, "env", os.Getenv("APP_ENV"), "target environment (dev, staging, prod)")

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a random key suitable for SERVICE_API_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := generateToken()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(o.Out, token)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which secrets exist for the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateEnv(env); err != nil {
				return err
			}
			client, err := o.SSM(commandContext(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(o.Out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "SECRET\tPATH\tSTATUS\tENV POINTER")
			for _, name := range secretNames() {
				secret := knownSecrets[name]
				path := ssmPath(env, secret.Path)
				exists, err := parameterExists(commandContext(cmd), client, path)
				status := "missing"
				switch {
				case err != nil:
					status = "error: " + err.Error()
				case exists:
					status = "present"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s_SSM_PARAM=%s\n", name, path, status, secret.EnvVar, path)
			}
			return w.Flush()
		},
	})

	var generate, overwrite bool
	put := &cobra.Command{
		Use:   "put <secret>",
		Short: "Store a secret as an encrypted SecureString",
		Long: "put stores one of: " + strings.Join(secretNames(), ", ") + ". The value is read " +
			"from the terminal without echo (or from stdin when piped) and is never printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateEnv(env); err != nil {
				return err
			}
			secret, ok := knownSecrets[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q (want one of %s)", args[0], strings.Join(secretNames(), ", "))
			}

			var value string
			if generate {
				if !secret.Generate {
					return fmt.Errorf("%s cannot be generated; it is issued by its provider", args[0])
				}
				token, err := generateToken()
				if err != nil {
					return err
				}
				value = token
			} else {
				v, err := readSecret(o, fmt.Sprintf("Value for %s", secret.EnvVar))
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return fmt.Errorf("empty value for %s", args[0])
			}

			client, err := o.SSM(commandContext(cmd))
			if err != nil {
				return err
			}
			path := ssmPath(env, secret.Path)
			if err := putSecret(commandContext(cmd), client, path, value, overwrite); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(o.Out, "Stored %s (%d chars). Set %s_SSM_PARAM=%s\n", path, len(value), secret.EnvVar, path)
			return nil
		},
	}
	put.Flags().BoolVar(&generate, "generate", false, "generate a random value instead of prompting")
	put.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing parameter")
	cmd.AddCommand(put)

	return cmd
}

func validateEnv(env string) error {
	switch env {
	case "dev", "staging", "prod":
		return nil
	case "":
		return fmt.Errorf("--env is required")
	default:
		return fmt.Errorf("invalid environment %q (want dev, staging or prod)", env)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readSecret reads one line without echo when In is a terminal.
func readSecret(o *Options, prompt string) (string, error) {
	if f, ok := o.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprintf(o.Out, "%s: ", prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(o.Out)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(o.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func parameterExists(ctx context.Context, client SSMClient, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

func putSecret(ctx context.Context, client SSMClient, path, value string, overwrite bool) error {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("SSM parameter %q already exists (use --overwrite)", path)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}
	return nil
}

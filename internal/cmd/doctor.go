package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/blobsync/internal/observability"
	"github.com/3leaps/blobsync/pkg/provider/azblob"
)

var (
	doctorProvider         string
	doctorConnectionString string
)

// imdsTimeout bounds the instance metadata probe; off EC2 it never answers.
const imdsTimeout = 2 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  blobsync doctor                    # Full environment check
  blobsync doctor --provider s3      # S3 credential and region checks
  blobsync doctor --provider azblob  # Azure connection string checks`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3|azblob)")
	doctorCmd.Flags().StringVar(&doctorConnectionString, "connection-string", "", "Azure connection string to check (default $"+AzureConnectionStringEnv+")")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	totalChecks := 5
	switch doctorProvider {
	case "":
	case "s3":
		totalChecks = 8
	case "azblob", "az":
		totalChecks = 7
	default:
		return exitError(foundry.ExitInvalidArgument, "Unsupported --provider", fmt.Errorf("%q (supported: s3, azblob)", doctorProvider))
	}

	bannerName := rootCmd.Name() + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	providerOK := true
	switch doctorProvider {
	case "s3":
		providerOK = runS3Checks(cmd.Context(), checkNum, totalChecks)
	case "azblob", "az":
		providerOK = runAzureChecks(checkNum, totalChecks)
	}
	allChecks = allChecks && providerOK

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", rootCmd.Name()))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	// Environment warnings are advisory; a provider that cannot be reached
	// fails the command.
	if !providerOK {
		return exitError(foundry.ExitExternalServiceUnavailable, "Provider checks failed", errors.New("see diagnostics above"))
	}
	return nil
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Provider Checks:")

	// Check 6: AWS credentials
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	// Check 7: Credential source info
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))
	checkNum++

	// Check 8: Region. Configured region wins; otherwise ask instance metadata.
	if cfg.Region != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s (configured)", checkNum, totalChecks, cfg.Region),
			zap.String("region", cfg.Region))
		return true
	}
	region, err := probeIMDSRegion(ctx, imds.NewFromConfig(cfg))
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking region... ⚠️  none configured and instance metadata unavailable", checkNum, totalChecks),
			zap.Error(err))
		observability.CLILogger.Info("  Set AWS_REGION or pass --src-region/--dst-region to sync.")
		return true
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s (instance metadata)", checkNum, totalChecks, region),
		zap.String("region", region))
	return true
}

// regionGetter is the part of *imds.Client used by probeIMDSRegion.
type regionGetter interface {
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// probeIMDSRegion asks EC2 instance metadata for the region.
func probeIMDSRegion(ctx context.Context, client regionGetter) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", err
	}
	if out.Region == "" {
		return "", errors.New("instance metadata returned an empty region")
	}
	return out.Region, nil
}

// runAzureChecks validates the Azure connection string without contacting
// the service.
func runAzureChecks(checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Azure Blob Provider Checks:")

	raw := doctorConnectionString
	if raw == "" {
		raw = os.Getenv(AzureConnectionStringEnv)
	}

	// Check 6: Connection string
	cs, err := azblob.ParseConnectionString(raw)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking connection string... ❌ %v", checkNum, totalChecks, err))
		printAzureConnectionHelp()
		return false
	}
	account := cs.AccountName
	if cs.Development {
		account += " (development storage)"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking connection string... ✅ account %s", checkNum, totalChecks, account),
		zap.String("account", cs.AccountName),
		zap.String("blob_endpoint", cs.BlobEndpoint))
	checkNum++

	// Check 7: Delegated access. Read tokens are signed with the account key.
	if cs.HasKey {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking delegated access... ✅ account key present, read tokens available", checkNum, totalChecks))
		return true
	}
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking delegated access... ⚠️  no account key; cross-account syncs from this account will fail", checkNum, totalChecks),
		zap.Bool("sas", cs.HasSAS))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (Wasabi, moto, etc.), also set:")
	observability.CLILogger.Info("  - AWS_ENDPOINT_URL or use --src-endpoint/--dst-endpoint")
	observability.CLILogger.Info("")
}

// printAzureConnectionHelp prints help for configuring Azure access.
func printAzureConnectionHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure Azure Blob Storage access:")
	observability.CLILogger.Info("  1. Set " + AzureConnectionStringEnv + ", or")
	observability.CLILogger.Info("  2. Pass --src-connection-string/--dst-connection-string to sync, or")
	observability.CLILogger.Info("  3. Name a variable with connection_string_env in a sync manifest")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Cross-account syncs need the source connection string to carry an AccountKey.")
	observability.CLILogger.Info("")
}

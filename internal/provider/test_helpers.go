package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/hashicorp/terraform-plugin-testing/terraform"

	"github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// Test environment configuration constants.
const (
	EnvTestLDAPURL      = "DIRSRV_TEST_LDAP_URL"
	EnvTestBindDN       = "DIRSRV_TEST_BIND_DN"
	EnvTestBindPassword = "DIRSRV_TEST_BIND_PASSWORD"
	EnvTestSuffix       = "DIRSRV_TEST_SUFFIX"
	EnvTestConsumerHost = "DIRSRV_TEST_CONSUMER_HOST"
	EnvTestSkipTLS      = "DIRSRV_TEST_SKIP_TLS_VERIFY"

	DefaultTestBindDN = "cn=Directory Manager"
	DefaultTestSuffix = "dc=example,dc=com"

	// Test object name prefixes to avoid conflicts.
	TestBackendPrefix = "tftest"
	TestSuffixPrefix  = "tf-test-"
)

// TestConfig holds common test configuration.
type TestConfig struct {
	LDAPURL       string
	BindDN        string
	BindPassword  string
	Suffix        string
	ConsumerHost  string
	SkipTLSVerify bool
}

// GetTestConfig returns the test configuration from environment variables.
func GetTestConfig() *TestConfig {
	return &TestConfig{
		LDAPURL:       os.Getenv(EnvTestLDAPURL),
		BindDN:        getEnvWithDefault(EnvTestBindDN, DefaultTestBindDN),
		BindPassword:  os.Getenv(EnvTestBindPassword),
		Suffix:        getEnvWithDefault(EnvTestSuffix, DefaultTestSuffix),
		ConsumerHost:  os.Getenv(EnvTestConsumerHost),
		SkipTLSVerify: os.Getenv(EnvTestSkipTLS) != "",
	}
}

// IsAccTest returns true if acceptance tests should run.
func IsAccTest() bool {
	return os.Getenv("TF_ACC") != ""
}

// SkipIfNotAccTest skips the test if TF_ACC is not set.
func SkipIfNotAccTest(t *testing.T) {
	if !IsAccTest() {
		t.Skip("Skipping acceptance test - set TF_ACC=1 to run")
	}
}

// testAccPreCheckWithConfig validates the acceptance test environment.
func testAccPreCheckWithConfig(t *testing.T) *TestConfig {
	SkipIfNotAccTest(t)

	config := GetTestConfig()

	if config.LDAPURL == "" {
		t.Skipf("Skipping test: %s must point at a 389 Directory Server instance", EnvTestLDAPURL)
	}
	if config.BindPassword == "" {
		t.Skipf("Skipping test: %s must be set", EnvTestBindPassword)
	}

	return config
}

// testAccPreCheckConsumer additionally requires a second server for agreement tests.
func testAccPreCheckConsumer(t *testing.T) *TestConfig {
	config := testAccPreCheckWithConfig(t)
	if config.ConsumerHost == "" {
		t.Skipf("Skipping test: %s must name a consumer server", EnvTestConsumerHost)
	}
	return config
}

// TestProviderConfig generates provider configuration for tests.
func TestProviderConfig() string {
	config := GetTestConfig()

	var b strings.Builder
	b.WriteString("provider \"dirsrv\" {\n")
	fmt.Fprintf(&b, "  ldap_url      = %q\n", config.LDAPURL)
	fmt.Fprintf(&b, "  bind_dn       = %q\n", config.BindDN)
	fmt.Fprintf(&b, "  bind_password = %q\n", config.BindPassword)
	if config.SkipTLSVerify {
		b.WriteString("  skip_tls_verify = true\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// GenerateTestName generates a unique test name with timestamp.
func GenerateTestName(prefix string) string {
	timestamp := time.Now().Format("20060102-150405")
	shortUUID := uuid.New().String()[:8]
	return fmt.Sprintf("%s%s-%s", prefix, timestamp, shortUUID)
}

// GenerateTestBackendName generates a backend name: letters and digits only.
func GenerateTestBackendName() string {
	return TestBackendPrefix + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
}

// TestDataGenerator provides test data generation utilities.
type TestDataGenerator struct {
	config *TestConfig
}

// NewTestDataGenerator creates a new test data generator.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{
		config: GetTestConfig(),
	}
}

// TestSuffix returns a fresh suffix below the configured test suffix's domain.
func (g *TestDataGenerator) TestSuffix() string {
	return fmt.Sprintf("dc=%s,%s", strings.ReplaceAll(GenerateTestName(TestSuffixPrefix), "-", ""), g.config.Suffix)
}

// GenerateBackendConfig generates a backend and its mapping tree entry.
func (g *TestDataGenerator) GenerateBackendConfig(name, suffix string, readOnly bool) string {
	return fmt.Sprintf(`
resource "dirsrv_backend" "test" {
  name      = %[1]q
  suffix    = %[2]q
  read_only = %[3]t
}

resource "dirsrv_suffix" "test" {
  suffix  = dirsrv_backend.test.suffix
  backend = dirsrv_backend.test.name
}`, name, suffix, readOnly)
}

// GenerateReplicaConfig generates a supplier replica on top of GenerateBackendConfig.
func (g *TestDataGenerator) GenerateReplicaConfig(name, suffix string, rid int) string {
	return g.GenerateBackendConfig(name, suffix, false) + fmt.Sprintf(`

resource "dirsrv_replica" "test" {
  suffix     = dirsrv_suffix.test.suffix
  role       = "supplier"
  replica_id = %[1]d
}`, rid)
}

// newTestProviderData connects to the test server for out-of-band checks.
func newTestProviderData(ctx context.Context) (*ldap.ProviderData, error) {
	config := GetTestConfig()

	ldapConfig := ldap.DefaultConfig()
	ldapConfig.LDAPURLs = []string{config.LDAPURL}
	ldapConfig.BindDN = config.BindDN
	ldapConfig.Password = config.BindPassword
	if config.SkipTLSVerify {
		ldapConfig.TLSConfig.InsecureSkipVerify = true
	}

	client, err := ldap.NewClient(ctx, ldapConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create LDAP client: %w", err)
	}
	return ldap.NewProviderData(client, nil), nil
}

// checkPrimary runs check against the resource's state attributes with a live connection.
func checkPrimary(resourceName string, check func(ctx context.Context, pd *ldap.ProviderData, attrs map[string]string) error) resource.TestCheckFunc {
	return func(s *terraform.State) error {
		rs, ok := s.RootModule().Resources[resourceName]
		if !ok {
			return fmt.Errorf("resource not found: %s", resourceName)
		}
		if rs.Primary.ID == "" {
			return fmt.Errorf("resource ID not set")
		}

		ctx := context.Background()
		pd, err := newTestProviderData(ctx)
		if err != nil {
			return err
		}
		defer pd.Close()

		return check(ctx, pd, rs.Primary.Attributes)
	}
}

// TestCheckBackendExists verifies that a backend exists on the server.
func TestCheckBackendExists(resourceName string) resource.TestCheckFunc {
	return checkPrimary(resourceName, func(ctx context.Context, pd *ldap.ProviderData, attrs map[string]string) error {
		if _, err := pd.Backends.Get(ctx, attrs["name"]); err != nil {
			return fmt.Errorf("backend %s does not exist: %w", attrs["name"], err)
		}
		return nil
	})
}

// TestCheckReplicaExists verifies that the suffix of a replica resource is replicated.
func TestCheckReplicaExists(resourceName string) resource.TestCheckFunc {
	return checkPrimary(resourceName, func(ctx context.Context, pd *ldap.ProviderData, attrs map[string]string) error {
		if _, err := pd.Replicas.Get(ctx, attrs["suffix"]); err != nil {
			return fmt.Errorf("replica of %s does not exist: %w", attrs["suffix"], err)
		}
		return nil
	})
}

// TestCheckBackendDisappears deletes a backend outside of Terraform.
func TestCheckBackendDisappears(resourceName string) resource.TestCheckFunc {
	return checkPrimary(resourceName, func(ctx context.Context, pd *ldap.ProviderData, attrs map[string]string) error {
		if err := pd.MappingTree.Delete(ctx, attrs["suffix"]); err != nil && !ldap.IsNotFoundError(err) {
			return fmt.Errorf("failed to manually delete mapping tree entry: %w", err)
		}
		if err := pd.Backends.Delete(ctx, attrs["name"], false); err != nil {
			return fmt.Errorf("failed to manually delete backend: %w", err)
		}
		return nil
	})
}

// TestCheckDestroy verifies that no backend, suffix or replica from the state is left behind.
func TestCheckDestroy(s *terraform.State) error {
	ctx := context.Background()
	pd, err := newTestProviderData(ctx)
	if err != nil {
		return err
	}
	defer pd.Close()

	for _, rs := range s.RootModule().Resources {
		var lookupErr error
		switch rs.Type {
		case "dirsrv_backend":
			_, lookupErr = pd.Backends.Get(ctx, rs.Primary.Attributes["name"])
		case "dirsrv_suffix":
			_, lookupErr = pd.MappingTree.Get(ctx, rs.Primary.Attributes["suffix"])
		case "dirsrv_replica":
			_, lookupErr = pd.Replicas.Get(ctx, rs.Primary.Attributes["suffix"])
		default:
			continue
		}

		if lookupErr == nil {
			return fmt.Errorf("%s %s still exists", rs.Type, rs.Primary.ID)
		}
		if !ldap.IsNotFoundError(lookupErr) {
			return fmt.Errorf("unexpected error checking %s %s: %w", rs.Type, rs.Primary.ID, lookupErr)
		}
	}

	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

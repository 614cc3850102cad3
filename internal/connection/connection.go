// Package connection implements ConnectionInfo (§3, §6.1): a tagged
// variant discriminated by VendorType. Masked returns a copy with
// sensitive fields replaced, and String prints no credential fields;
// encoding an Info with encoding/json emits its fields unmasked.
package connection

import "fmt"

// VendorType discriminates a ConnectionInfo.
type VendorType string

const (
	VendorMemory     VendorType = "memory"
	VendorPostgreSQL VendorType = "postgresql"
	VendorRedshift   VendorType = "redshift"
	VendorSnowflake  VendorType = "snowflake"
	VendorBigQuery   VendorType = "bigquery"
	VendorConsole    VendorType = "console"
	VendorS3         VendorType = "s3"
	VendorGCS        VendorType = "gcs"
	VendorGlue       VendorType = "glue"
)

// AuthType names the authentication scheme a vendor adapter validates,
// per the §4.3/§6.1 "Per-vendor policy" validation rules.
type AuthType string

const (
	AuthBasic          AuthType = "basic"
	AuthAccessToken     AuthType = "access_token"
	AuthServiceAccount AuthType = "service_account"
	AuthNone           AuthType = ""
)

// ObjectStoreFormat names the s3 destination's layout mode, per §6.1.
type ObjectStoreFormat string

const (
	FormatStaging ObjectStoreFormat = "staging"
	FormatHive    ObjectStoreFormat = "hive"
)

const masked = "****"

// Info is the union of every vendor's fields. Only the fields relevant
// to VendorType are populated by a given instance; constructors below
// validate that.
type Info struct {
	VendorType VendorType `json:"vendor_type"`
	AuthType   AuthType   `json:"auth_type,omitempty"`

	// memory
	Namespace string `json:"namespace,omitempty"`

	// postgresql / redshift source+dest, snowflake, bigquery (basic fields)
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`

	// destination-only
	TargetSchema string `json:"target_schema,omitempty"`

	// redshift destination / s3
	S3Bucket           string `json:"s3_bucket,omitempty"`
	S3Region           string `json:"s3_region,omitempty"`
	S3Prefix           string `json:"s3_prefix,omitempty"`
	IAMRole            string `json:"iam_role,omitempty"`
	AWSAccessKeyID     string `json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `json:"aws_secret_access_key,omitempty"`
	ObjectStoreFormat  ObjectStoreFormat `json:"format,omitempty"`

	// glue (crawls the s3 staging path an s3 sibling already populated)
	GlueDatabase string `json:"glue_database,omitempty"`

	// snowflake
	AccessToken  string `json:"access_token,omitempty"`
	Account      string `json:"account,omitempty"`
	Warehouse    string `json:"warehouse,omitempty"`
	StageName    string `json:"stage_name,omitempty"`
	CreateStage  bool   `json:"create_stage,omitempty"`
	DeleteStage  bool   `json:"delete_stage,omitempty"`

	// bigquery / gcs
	ProjectID        string `json:"project_id,omitempty"`
	ServiceAccount   string `json:"service_account,omitempty"`
	GCSBucketName    string `json:"gcs_bucket_name,omitempty"`
	GCSBucketPath    string `json:"gcs_bucket_path,omitempty"`

	// console
	Limit int `json:"limit,omitempty"`
}

// Validate enforces §4.3/§6.1's per-vendor auth + required-field rules.
// Authentication mismatch (or a missing required field) fails
// construction, per §4.3 "Authentication mismatch fails construction."
func (i Info) Validate() error {
	switch i.VendorType {
	case VendorMemory, VendorConsole:
		return nil
	case VendorPostgreSQL, VendorRedshift:
		if i.AuthType != AuthBasic {
			return fmt.Errorf("connection: %s requires basic auth, got %q", i.VendorType, i.AuthType)
		}
		if i.Host == "" || i.User == "" || i.Password == "" || i.Database == "" {
			return fmt.Errorf("connection: %s requires host, user, password, database", i.VendorType)
		}
		return nil
	case VendorSnowflake:
		if i.AuthType != AuthAccessToken {
			return fmt.Errorf("connection: snowflake requires access_token auth, got %q", i.AuthType)
		}
		if i.User == "" || i.AccessToken == "" || i.Account == "" || i.Warehouse == "" || i.Database == "" {
			return fmt.Errorf("connection: snowflake requires user, access_token, account, warehouse, database")
		}
		return nil
	case VendorBigQuery:
		if i.AuthType != AuthServiceAccount {
			return fmt.Errorf("connection: bigquery requires service_account auth, got %q", i.AuthType)
		}
		if i.ProjectID == "" || i.ServiceAccount == "" {
			return fmt.Errorf("connection: bigquery requires project_id and service_account")
		}
		return nil
	case VendorS3:
		if i.AuthType != AuthBasic {
			return fmt.Errorf("connection: s3 requires basic auth, got %q", i.AuthType)
		}
		if i.S3Bucket == "" || i.S3Region == "" || i.AWSAccessKeyID == "" || i.AWSSecretAccessKey == "" {
			return fmt.Errorf("connection: s3 requires s3_bucket, s3_region, aws_access_key_id, aws_secret_access_key")
		}
		if i.ObjectStoreFormat != FormatStaging && i.ObjectStoreFormat != FormatHive {
			return fmt.Errorf("connection: s3 format must be staging or hive, got %q", i.ObjectStoreFormat)
		}
		return nil
	case VendorGCS:
		if i.AuthType != AuthServiceAccount {
			return fmt.Errorf("connection: gcs requires service_account auth, got %q", i.AuthType)
		}
		if i.GCSBucketName == "" || i.ServiceAccount == "" {
			return fmt.Errorf("connection: gcs requires gcs_bucket_name and service_account")
		}
		return nil
	case VendorGlue:
		if i.AuthType != AuthBasic {
			return fmt.Errorf("connection: glue requires basic auth, got %q", i.AuthType)
		}
		if i.S3Bucket == "" || i.S3Region == "" || i.AWSAccessKeyID == "" || i.AWSSecretAccessKey == "" {
			return fmt.Errorf("connection: glue requires s3_bucket, s3_region, aws_access_key_id, aws_secret_access_key")
		}
		if i.GlueDatabase == "" || i.IAMRole == "" {
			return fmt.Errorf("connection: glue requires glue_database and iam_role")
		}
		return nil
	default:
		return fmt.Errorf("connection: unknown vendor_type %q", i.VendorType)
	}
}

// Masked returns a copy of i with every sensitive field replaced by
// "****": password, access_token, service_account, and the AWS key
// pair, per §3 "Sensitive fields (...) are masked ... unless an explicit
// unmask context flag is passed."
func (i Info) Masked() Info {
	m := i
	if m.Password != "" {
		m.Password = masked
	}
	if m.AccessToken != "" {
		m.AccessToken = masked
	}
	if m.ServiceAccount != "" {
		m.ServiceAccount = masked
	}
	if m.AWSAccessKeyID != "" {
		m.AWSAccessKeyID = masked
	}
	if m.AWSSecretAccessKey != "" {
		m.AWSSecretAccessKey = masked
	}
	return m
}

// String renders the masked form; callers that need raw credentials must
// use an explicit field access or Unmasked(), never fmt on Info
// directly in a log line.
func (i Info) String() string {
	return fmt.Sprintf("Info{vendor_type=%s host=%s database=%s}", i.VendorType, i.Host, i.Database)
}

// Unmasked returns i verbatim. Its existence makes the "explicit unmask
// context flag" in §3 a visible, searchable call site rather than an
// implicit default.
func (i Info) Unmasked() Info { return i }

package connection

import "testing"

func TestMaskedRedactsSensitiveFields(t *testing.T) {
	info := Info{
		VendorType:         VendorPostgreSQL,
		AuthType:           AuthBasic,
		Host:               "db.internal",
		Password:           "hunter2",
		AWSAccessKeyID:     "AKIA...",
		AWSSecretAccessKey: "shh",
		ServiceAccount:     `{"type":"service_account"}`,
		AccessToken:        "tok",
	}

	m := info.Masked()
	if m.Password != "****" || m.AWSAccessKeyID != "****" || m.AWSSecretAccessKey != "****" ||
		m.ServiceAccount != "****" || m.AccessToken != "****" {
		t.Fatalf("expected all sensitive fields masked, got %+v", m)
	}
	if m.Host != "db.internal" {
		t.Fatalf("non-sensitive fields must survive masking, got %+v", m)
	}
}

func TestValidatePostgresRequiresBasicAuth(t *testing.T) {
	info := Info{VendorType: VendorPostgreSQL, AuthType: AuthAccessToken, Host: "h", User: "u", Password: "p", Database: "d"}
	if err := info.Validate(); err == nil {
		t.Fatalf("expected validation failure for mismatched auth type")
	}
}

func TestValidateSnowflakeRequiredFields(t *testing.T) {
	info := Info{VendorType: VendorSnowflake, AuthType: AuthAccessToken, User: "u", AccessToken: "t", Account: "acct"}
	if err := info.Validate(); err == nil {
		t.Fatalf("expected validation failure for missing warehouse/database")
	}
	info.Warehouse = "wh"
	info.Database = "db"
	if err := info.Validate(); err != nil {
		t.Fatalf("expected validation success, got %v", err)
	}
}

func TestValidateS3RequiresKnownFormat(t *testing.T) {
	info := Info{
		VendorType: VendorS3, AuthType: AuthBasic,
		S3Bucket: "b", S3Region: "us-east-1",
		AWSAccessKeyID: "k", AWSSecretAccessKey: "s",
		ObjectStoreFormat: "bogus",
	}
	if err := info.Validate(); err == nil {
		t.Fatalf("expected validation failure for unknown object store format")
	}
}

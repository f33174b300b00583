package options

import (
	"path/filepath"
	"testing"
)

func TestDBPathResolution(t *testing.T) {
	o := NewDatastoreOptions()
	o.Dir = "/var/lib/fleet"
	if got := o.DBPath(); got != filepath.Join("/var/lib/fleet", DBFileName) {
		t.Fatalf("default db path = %s", got)
	}

	o.DBFile = "/tmp/custom.db"
	if got := o.DBPath(); got != "/tmp/custom.db" {
		t.Fatalf("--db-file should override the directory, got %s", got)
	}

	// WGF_DB wins over everything.
	t.Setenv("WGF_DB", "/srv/tenant-a/wireguard.db")
	if got := o.DBPath(); got != "/srv/tenant-a/wireguard.db" {
		t.Fatalf("WGF_DB not honored, got %s", got)
	}
	if got := o.OutputDir(); got != "/srv/tenant-a/output" {
		t.Fatalf("output dir = %s", got)
	}
	if got := o.BackupsDir(); got != "/srv/tenant-a/backups" {
		t.Fatalf("backups dir = %s", got)
	}
}

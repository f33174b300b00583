package options

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

// DBFileName is the relational file inside a datastore working
// directory; ImportDirName/OutputDirName/BackupsDirName are its
// siblings (persisted state layout).
const (
	DBFileName     = "wireguard.db"
	ImportDirName  = "import"
	OutputDirName  = "output"
	BackupsDirName = "backups"
)

// DatastoreOptions selects the working directory (or, via WGF_DB, the
// exact database file) and the at-rest encryption passphrase source.
type DatastoreOptions struct {
	Dir            string `json:"dir"             mapstructure:"dir"`
	DBFile         string `json:"db-file"         mapstructure:"db-file"`
	PassphraseFile string `json:"passphrase-file" mapstructure:"passphrase-file"`
}

func NewDatastoreOptions() *DatastoreOptions {
	return &DatastoreOptions{Dir: "."}
}

func (o *DatastoreOptions) Validate() []error {
	var errs []error
	if o.Dir == "" && o.DBFile == "" {
		errs = append(errs, fmt.Errorf("datastore directory is required"))
	}
	return errs
}

func (o *DatastoreOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Dir, "datastore", "d", o.Dir, "Datastore working directory (contains "+DBFileName+", import/, output/, backups/)")
	fs.StringVar(&o.DBFile, "db-file", o.DBFile, "Exact database file path, overriding --datastore (also set by WGF_DB)")
	fs.StringVar(&o.PassphraseFile, "passphrase-file", o.PassphraseFile, "File containing the at-rest encryption passphrase; empty disables column encryption")
}

// DBPath resolves the database file: WGF_DB wins, then --db-file, then
// <datastore>/wireguard.db.
func (o *DatastoreOptions) DBPath() string {
	if env := os.Getenv("WGF_DB"); env != "" {
		return env
	}
	if o.DBFile != "" {
		return o.DBFile
	}
	return filepath.Join(o.Dir, DBFileName)
}

// WorkDir is the datastore working directory the DB file lives in.
func (o *DatastoreOptions) WorkDir() string {
	return filepath.Dir(o.DBPath())
}

// ImportDir, OutputDir, BackupsDir are the sibling directories of the
// database file.
func (o *DatastoreOptions) ImportDir() string  { return filepath.Join(o.WorkDir(), ImportDirName) }
func (o *DatastoreOptions) OutputDir() string  { return filepath.Join(o.WorkDir(), OutputDirName) }
func (o *DatastoreOptions) BackupsDir() string { return filepath.Join(o.WorkDir(), BackupsDirName) }

// Passphrase reads the passphrase file, returning "" when none is
// configured (unencrypted datastore).
func (o *DatastoreOptions) Passphrase() (string, error) {
	if o.PassphraseFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(o.PassphraseFile)
	if err != nil {
		return "", fmt.Errorf("read passphrase file: %w", err)
	}
	// Trailing newline from `echo secret > file` is not part of the passphrase.
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

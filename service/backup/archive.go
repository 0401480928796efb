package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/rekapu/go-rekapu/service/persist"
)

const (
	// ArchivePayloadName is the archive member holding the pretty-printed
	// backup container
	ArchivePayloadName = "rekapu-backup.json"
	// ArchiveInfoName is the small metadata member enabling format sniffing
	// without parsing the payload
	ArchiveInfoName = "backup-info.json"
)

// ArchiveInfo is the machine-readable header written next to the payload
type ArchiveInfo struct {
	Version   string         `json:"version"`
	Scope     Scope          `json:"scope"`
	Timestamp persist.Millis `json:"timestamp"`
	Filename  string         `json:"filename"`
}

// WriteArchive serializes a container into a compressed archive with two
// members: the payload and its identification header
func WriteArchive(container Container, filename string) ([]byte, error) {
	payload, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "serializing backup container")
	}
	info, err := json.Marshal(ArchiveInfo{
		Version:   container.Version,
		Scope:     container.Scope,
		Timestamp: container.Timestamp,
		Filename:  filename,
	})
	if err != nil {
		return nil, errors.Wrap(err, "serializing archive info")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, member := range []struct {
		name string
		data []byte
	}{
		{ArchivePayloadName, payload},
		{ArchiveInfoName, info},
	} {
		w, err := zw.Create(member.name)
		if err != nil {
			return nil, errors.Wrapf(err, "creating archive member %s", member.name)
		}
		if _, err := w.Write(member.data); err != nil {
			return nil, errors.Wrapf(err, "writing archive member %s", member.name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing archive")
	}
	return buf.Bytes(), nil
}

// ParseBackupFile decodes a backup file into a container. Archives are the
// primary format; a file that is not an archive is retried as a bare JSON
// document for pre-archive backups before being rejected. Containers with
// missing identity fields or an ununderstood version are rejected outright,
// never partially accepted.
func ParseBackupFile(file []byte) (Container, error) {
	payload, err := readArchiveMember(file, ArchivePayloadName)
	if err != nil {
		if _, ok := err.(ErrInvalidBackupFormat); ok {
			return Container{}, err
		}
		// not an archive at all: legacy bare-JSON backup
		payload = file
	}

	var container Container
	if err := json.Unmarshal(payload, &container); err != nil {
		return Container{}, ErrInvalidBackupFormat{Reason: "not a backup archive or JSON document"}
	}
	if err := checkContainer(container); err != nil {
		return Container{}, err
	}
	return container, nil
}

// ReadArchiveInfo reads only the identification header from an archive,
// letting callers identify a backup without decompressing the payload
func ReadArchiveInfo(file []byte) (ArchiveInfo, error) {
	data, err := readArchiveMember(file, ArchiveInfoName)
	if err != nil {
		return ArchiveInfo{}, err
	}
	var info ArchiveInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ArchiveInfo{}, ErrInvalidBackupFormat{Reason: "malformed archive info member"}
	}
	return info, nil
}

// readArchiveMember opens the file as a zip and extracts one member. A
// non-zip file returns the underlying zip error; a zip missing the member
// is an invalid-format error.
func readArchiveMember(file []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(file), int64(len(file)))
	if err != nil {
		return nil, err
	}
	for _, member := range zr.File {
		if member.Name != name {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return nil, ErrInvalidBackupFormat{Reason: "unreadable archive member " + name}
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, ErrInvalidBackupFormat{Reason: "unreadable archive member " + name}
		}
		return data, nil
	}
	return nil, ErrInvalidBackupFormat{Reason: "archive missing member " + name}
}

func checkContainer(container Container) error {
	if container.Version == "" || container.Timestamp == 0 || container.Scope == "" {
		return ErrInvalidBackupFormat{Reason: "container missing version, timestamp or scope"}
	}
	if !container.Scope.Valid() {
		return ErrInvalidBackupFormat{Reason: "unknown scope " + string(container.Scope)}
	}
	if !versionSupported(container.Version) {
		return ErrUnsupportedVersion{Version: container.Version}
	}
	return nil
}

// versionSupported accepts the current major and the pre-archive 1.x line
func versionSupported(version string) bool {
	return strings.HasPrefix(version, "2.") || strings.HasPrefix(version, "1.")
}

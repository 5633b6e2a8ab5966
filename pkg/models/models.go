// Package models contains the data types shared by the codec, tree builder,
// validator, gateways and explorer.
package models

import (
	"encoding/json"
	"time"
)

// Content types written by gateways.
const (
	ContentTypeText      = "text/plain;charset=UTF-8"
	ContentTypeDirectory = "application/x-directory"
)

// LogicalFile is one user-visible entry of the virtual filesystem.
// Directory pathnames end with "/".
type LogicalFile struct {
	Pathname    string    `json:"pathname"`
	URL         string    `json:"url,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	IsDirectory bool      `json:"isDirectory"`
}

// Saved reports whether the entry has been confirmed by a gateway.
func (f LogicalFile) Saved() bool {
	return f.URL != ""
}

// RawObject is an object as held by the backing store. Its pathname may carry
// a random uniqueness suffix.
type RawObject struct {
	Pathname    string    `json:"pathname"`
	URL         string    `json:"url"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	ContentType string    `json:"contentType,omitempty"`
}

// PutOptions controls how a gateway stores file content.
type PutOptions struct {
	AddRandomSuffix bool
}

// PutResult is returned by gateway writes.
type PutResult struct {
	Pathname    string `json:"pathname"`
	URL         string `json:"url"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// ValidationResult is the outcome of a pathname check.
type ValidationResult struct {
	IsValid bool
	Error   string
}

// MarshalJSON renders an empty error as null.
func (v ValidationResult) MarshalJSON() ([]byte, error) {
	out := struct {
		IsValid bool    `json:"isValid"`
		Error   *string `json:"error"`
	}{IsValid: v.IsValid}
	if v.Error != "" {
		out.Error = &v.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both null and string errors.
func (v *ValidationResult) UnmarshalJSON(data []byte) error {
	var in struct {
		IsValid bool    `json:"isValid"`
		Error   *string `json:"error"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v.IsValid = in.IsValid
	v.Error = ""
	if in.Error != nil {
		v.Error = *in.Error
	}
	return nil
}

// Node is an element of the display tree: either *DirNode or *FileNode.
type Node interface {
	NodeID() string
	NodeName() string
	ModTime() time.Time
	isNode()
}

// DirNode is a directory in the display tree. Children is never nil.
type DirNode struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploadedAt"`
	Children   []Node    `json:"children"`
}

// FileNode is a leaf of the display tree.
type FileNode struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	UploadedAt time.Time   `json:"uploadedAt"`
	File       LogicalFile `json:"file"`
}

func (d *DirNode) NodeID() string     { return d.ID }
func (d *DirNode) NodeName() string   { return d.Name }
func (d *DirNode) ModTime() time.Time { return d.UploadedAt }
func (*DirNode) isNode()              {}

func (f *FileNode) NodeID() string     { return f.ID }
func (f *FileNode) NodeName() string   { return f.Name }
func (f *FileNode) ModTime() time.Time { return f.UploadedAt }
func (*FileNode) isNode()              {}

package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest はジョブの実行に必要な情報を保持します。
// 準備フェーズ（HTTPリクエスト処理中）に作業領域へ書き出され、
// ワーカーが実行時に読み戻します。
type JobManifest struct {
	JobID     string        `json:"jobId"`
	Operation OperationType `json:"operation"`
	Files     []JobFile     `json:"files"`
	Order     []int         `json:"order,omitempty"`
	Ranges    string        `json:"ranges,omitempty"`
	Watermark string        `json:"watermark,omitempty"`
	Rotation  int           `json:"rotation,omitempty"`
	Password  string        `json:"password,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータを表します。
type JobFile struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`
}

// TotalBytes は入力ファイルの合計サイズを返します。
func (m *JobManifest) TotalBytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// LargestBytes は最大の入力ファイルサイズを返します。
func (m *JobManifest) LargestBytes() int64 {
	var largest int64
	for _, f := range m.Files {
		if f.Size > largest {
			largest = f.Size
		}
	}
	return largest
}

// TotalPages は入力ファイルの合計ページ数を返します。
func (m *JobManifest) TotalPages() int {
	total := 0
	for _, f := range m.Files {
		total += f.Pages
	}
	return total
}

func writeManifest(jobDir string, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	if err := writeJSON(filepath.Join(jobDir, manifestFilename), manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func loadManifest(jobDir string) (*JobManifest, error) {
	path := filepath.Join(jobDir, manifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

package pdf

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationMerge     OperationType = "merge"
	OperationSplit     OperationType = "split"
	OperationReorder   OperationType = "reorder"
	OperationOptimize  OperationType = "optimize"
	OperationWatermark OperationType = "watermark"
	OperationRotate    OperationType = "rotate"
	OperationProtect   OperationType = "protect"
	OperationUnlock    OperationType = "unlock"
)

// KnownOperation は対応済みの操作かどうかを返します。
func KnownOperation(op OperationType) bool {
	_, ok := operationOutput[op]
	return ok
}

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// Result はPDF処理の成果を表します。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	Meta           any           `json:"meta,omitempty"`
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
}

// ReorderMeta はページ順入替処理のメタデータです。
type ReorderMeta struct {
	Original SourceFileMeta `json:"original"`
	Order    []int          `json:"order"`
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Ranges   []PageRange    `json:"ranges"`
	Parts    []SplitPart    `json:"parts"`
}

// PageRange は分割対象のページ範囲を表します（Start/Endは1-based, End>=Start）。
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	FromPage int    `json:"fromPage"`
	ToPage   int    `json:"toPage"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
}

// OptimizeMeta は圧縮処理のメタデータです。
type OptimizeMeta struct {
	OriginalSize int64          `json:"originalSize"`
	OutputSize   int64          `json:"outputSize"`
	SavedBytes   int64          `json:"savedBytes"`
	SavedPercent float64        `json:"savedPercent"`
	Source       SourceFileMeta `json:"source"`
}

// WatermarkMeta は透かし処理のメタデータです。
type WatermarkMeta struct {
	Source SourceFileMeta `json:"source"`
	Text   string         `json:"text"`
}

// RotateMeta は回転処理のメタデータです。
type RotateMeta struct {
	Source   SourceFileMeta `json:"source"`
	Rotation int            `json:"rotation"`
}

// ProtectMeta はパスワード保護処理のメタデータです。
type ProtectMeta struct {
	Source    SourceFileMeta `json:"source"`
	Encrypted bool           `json:"encrypted"`
}

// UnlockMeta は保護解除処理のメタデータです。
type UnlockMeta struct {
	Source    SourceFileMeta `json:"source"`
	Decrypted bool           `json:"decrypted"`
}

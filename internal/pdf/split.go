package pdf

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const splitFilename = "split.zip"

type splitState struct {
	ws        workspace
	file      storedFile
	ranges    []PageRange
	rangesRaw string
}

func (s *Service) prepareSplit(ctx context.Context, file *multipart.FileHeader, rangesExpr string) (*splitState, *JobManifest, error) {
	rangesExpr = strings.TrimSpace(rangesExpr)
	if rangesExpr == "" {
		return nil, nil, newError("INVALID_INPUT", "分割するページ範囲を指定してください。", nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.storeMultipartFile(ctx, file, ws.inDir, 0)
	if err != nil {
		s.removeWorkspace(ws)
		return nil, nil, err
	}

	rangesParsed, err := parsePageRanges(rangesExpr, stored.pages)
	if err != nil {
		s.removeWorkspace(ws)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationSplit,
		Files:     toJobFiles([]storedFile{stored}),
		Ranges:    rangesExpr,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &splitState{ws: ws, file: stored, ranges: rangesParsed, rangesRaw: rangesExpr}, manifest, nil
}

func (s *Service) executeSplit(ctx context.Context, state *splitState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file
	ranges := state.ranges
	if ranges == nil {
		parsed, err := parsePageRanges(state.rangesRaw, stored.pages)
		if err != nil {
			return nil, err
		}
		ranges = parsed
	}

	reportProgress(progress, "load", progressLoadDone)

	partsMeta := make([]SplitPart, 0, len(ranges))
	partPaths := make([]string, 0, len(ranges))

	for i, pr := range ranges {
		// 範囲ごとのキャンセル確認ポイント
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageSelection := buildPageSelection(pr)
		partName := fmt.Sprintf("part-%02d.pdf", i+1)
		partPath := filepath.Join(ws.outDir, partName)

		if err := pdfapi.CollectFile(stored.path, partPath, pageSelection, nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("ページ範囲 %d の生成に失敗しました。", i+1), err)
		}

		info, statErr := os.Stat(partPath)
		if statErr != nil {
			return nil, fmt.Errorf("partファイルの確認に失敗しました: %w", statErr)
		}

		partsMeta = append(partsMeta, SplitPart{
			Filename: partName,
			FromPage: pr.Start,
			ToPage:   pr.End,
			Pages:    pr.End - pr.Start + 1,
			Size:     info.Size(),
		})
		partPaths = append(partPaths, partPath)

		reportProgress(progress, "process", processPercent(i+1, len(ranges)))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(ws.outDir, splitFilename)
	if err := archiveParts(outputPath, partPaths); err != nil {
		return nil, err
	}
	reportProgress(progress, "write", 90)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("zipファイルの確認に失敗しました: %w", err)
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationSplit,
		OutputPath:     outputPath,
		OutputFilename: splitFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindZIP,
		Meta: &SplitMeta{
			Original: sourceMetaOf(stored),
			Ranges:   ranges,
			Parts:    partsMeta,
		},
	}, nil
}

// PrepareSplitJob は分割ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareSplitJob(ctx context.Context, file *multipart.FileHeader, rangesExpr string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareSplit(ctx, file, rangesExpr)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func parsePageRanges(expr string, pageCount int) ([]PageRange, error) {
	segments := strings.Split(expr, ",")
	if len(segments) == 0 {
		return nil, newError("INVALID_INPUT", "範囲指定の形式が正しくありません。", nil)
	}

	ranges := make([]PageRange, 0, len(segments))
	usedPages := make(map[int]struct{})
	lastEnd := 0

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, newError("INVALID_INPUT", "空の範囲指定が含まれています。", nil)
		}

		start, end, err := parseSingleRange(seg, pageCount)
		if err != nil {
			return nil, err
		}

		if start <= lastEnd {
			return nil, newError("INVALID_INPUT", "ページ範囲は昇順で指定してください。", nil)
		}
		lastEnd = end

		for p := start; p <= end; p++ {
			if _, exists := usedPages[p]; exists {
				return nil, newError("INVALID_INPUT", fmt.Sprintf("ページ %d が重複しています。", p), nil)
			}
			usedPages[p] = struct{}{}
		}

		ranges = append(ranges, PageRange{Start: start, End: end})

		if end == pageCount && i != len(segments)-1 {
			return nil, newError("INVALID_INPUT", "最終ページ指定の後に追加の範囲を指定することはできません。", nil)
		}
	}

	if len(usedPages) == 0 {
		return nil, newError("INVALID_INPUT", "有効なページ範囲が指定されていません。", nil)
	}

	return ranges, nil
}

func parseSingleRange(seg string, pageCount int) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		if len(parts) != 2 {
			return 0, 0, newError("INVALID_INPUT", "範囲指定が正しくありません。", nil)
		}
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, newError("INVALID_INPUT", "範囲開始が整数ではありません。", nil)
		}
		var end int
		if strings.TrimSpace(parts[1]) == "" {
			end = pageCount
		} else {
			end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return 0, 0, newError("INVALID_INPUT", "範囲終了が整数ではありません。", nil)
			}
		}

		if start < 1 || end < start || end > pageCount {
			return 0, 0, newError("INVALID_INPUT", "範囲指定がページ数の範囲外です。", nil)
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, newError("INVALID_INPUT", "ページ番号が整数ではありません。", nil)
	}
	if page < 1 || page > pageCount {
		return 0, 0, newError("INVALID_INPUT", "ページ番号がページ数の範囲外です。", nil)
	}
	return page, page, nil
}

func buildPageSelection(pr PageRange) []string {
	pages := make([]string, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		pages = append(pages, strconv.Itoa(p))
	}
	return pages
}

// archiveParts は part ファイル群を zip に収め、収録済みの元ファイルを
// 削除します。成果物は zip のみが out/ に残ります。
func archiveParts(outputPath string, files []string) error {
	if err := createZip(outputPath, files); err != nil {
		return err
	}
	for _, path := range files {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("partファイルの削除に失敗しました: %w", err)
		}
	}
	return nil
}

func createZip(outputPath string, files []string) error {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("zipファイルの作成に失敗しました: %w", err)
	}
	defer outFile.Close()

	zipWriter := zip.NewWriter(outFile)
	defer zipWriter.Close()

	sort.Strings(files)

	for _, path := range files {
		if err := addZipEntry(zipWriter, path); err != nil {
			return err
		}
	}

	return nil
}

func addZipEntry(zipWriter *zip.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
	}
	return nil
}

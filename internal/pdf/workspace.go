package pdf

// workspace はジョブ1件分の作業ディレクトリ構成です。
type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

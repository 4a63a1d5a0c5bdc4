// Package main provides localization for the mediapipe CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Flag categories
		"Pipeline":    "パイプライン",
		"Encoder":     "エンコーダー",
		"Codec":       "コーデック",
		"Raw Input":   "生フレーム入力",
		"Diagnostics": "診断出力",
		"Logging":     "ログ",

		// Root command
		"Transcode video through a buffer-exchange codec pipeline": "バッファ交換型コーデックパイプラインで動画を変換",

		// Commands
		"Decode the first video track and re-encode it": "最初の映像トラックをデコードして再エンコード",
		"Encode a raw YUV 4:2:0 file":                   "YUV 4:2:0 の生ファイルをエンコード",
		"List the tracks of a container":                "コンテナのトラック一覧を表示",

		// Pipeline flags
		"YAML configuration file":                    "YAML設定ファイル",
		"Pipeline shape (sync, threaded)":            "パイプライン形態（sync, threaded）",
		"Output container (mp4, fmp4)":               "出力コンテナ（mp4, fmp4）",
		"Buffer acquisition timeout in milliseconds": "バッファ取得のタイムアウト（ミリ秒）",
		"Pending frame queue depth (threaded mode)":  "保留フレームキューの深さ（threadedモード）",

		// Encoder flags
		"Encoded width (default: same as input)":  "エンコード幅（デフォルト: 入力と同じ）",
		"Encoded height (default: same as input)": "エンコード高さ（デフォルト: 入力と同じ）",
		"Target bit rate in kbps":                 "目標ビットレート（kbps）",
		"Target frame rate":                       "目標フレームレート",
		"x264 preset for the ffmpeg backend":      "ffmpegバックエンドのx264プリセット",

		// Codec flags
		"Codec backend (loopback, ffmpeg)": "コーデックバックエンド（loopback, ffmpeg）",
		"Path to ffmpeg executable":        "ffmpeg実行ファイルのパス",

		// Raw input flags
		"Raw frame width":  "生フレームの幅",
		"Raw frame height": "生フレームの高さ",
		"Raw frame rate":   "生フレームのフレームレート",

		// Diagnostics flags
		"Directory for decoded frame dumps":           "デコード済みフレームの出力ディレクトリ",
		"Write Prometheus metrics to file":            "Prometheusメトリクスをファイルに出力",
		"Write a Markdown summary next to the output": "出力の隣にMarkdownサマリーを書き出す",

		// Logging flags
		"Log level (debug, info, warn, error)": "ログレベル（debug, info, warn, error）",
		"Suppress all log output":              "全てのログ出力を抑制",

		// Runtime messages
		"Interrupted, shutting down...": "中断されました。シャットダウン中...",

		// Error messages
		"Input and output arguments are required": "入力と出力の引数が必要です",
		"Input argument is required":              "入力引数が必要です",

		// Summary content
		"Transcode Summary": "変換サマリー",
		"Run":               "実行",
		"Streams":           "ストリーム",
		"Counters":          "カウンター",
		"Item":              "項目",
		"Value":             "値",
		"Input":             "入力",
		"Output":            "出力",
		"Mode":              "モード",
		"Container":         "コンテナ",
		"Outcome":           "結果",
		"Error":             "エラー",
		"Elapsed":           "経過時間",
		"Size":              "サイズ",
		"Frame Rate":        "フレームレート",
		"Bit Rate":          "ビットレート",
		"Stage":             "段階",
		"Count":             "件数",
		"Samples read":      "読み込みサンプル数",
		"Frames decoded":    "デコードフレーム数",
		"Packets encoded":   "エンコードパケット数",
		"Samples written":   "書き込みサンプル数",
		"File size":         "ファイルサイズ",
		"Generated at":      "生成日時",
		"completed":         "完了",
		"failed":            "失敗",
		"aborted":           "中断",
	})
}

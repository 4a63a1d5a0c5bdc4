package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Coordinator
		"Opening %s":                              "%s を開いています",
		"Selected track %d: %s":                   "トラック %d を選択しました: %s",
		"Run completed: %d samples written in %s": "完了: %d サンプルを %s で書き込みました",
		"Run %s: %s":                              "実行結果 %s: %s",
		"Teardown step failed: %s":                "終了処理に失敗しました: %s",
		"Transcoding %s to %s (%s)":               "%s を %s に変換中 (%s)",
		"Encoding raw %dx%d frames from %s to %s": "%d x %d の生フレームを %s から %s にエンコード中",
		"Output saved to %s":                      "出力を %s に保存しました",
		"Metrics saved to %s":                     "メトリクスを %s に保存しました",
		"Failed to write metrics: %s":             "メトリクスの書き込みに失敗しました: %s",
		"Summary saved to %s":                     "サマリーを %s に保存しました",
		"Failed to write summary: %s":             "サマリーの書き込みに失敗しました: %s",

		// Source
		"Submitted sample %d (%d bytes, pts %d)": "サンプル %d を投入しました (%d バイト, pts %d)",
		"Source exhausted after %d samples":      "%d サンプルでソースが終端に達しました",

		// Decoder
		"Decoder %s started for %s":                     "デコーダー %s を開始しました: %s",
		"Decoder output format: %s":                     "デコーダー出力フォーマット: %s",
		"Decoder reached end of stream after %d frames": "デコーダーが %d フレームで終端に達しました",
		"Failed to save frame %d: %s":                   "フレーム %d の保存に失敗しました: %s",

		// Encoder
		"Encoder %s started for %s":                      "エンコーダー %s を開始しました: %s",
		"Encoder output format: %s":                      "エンコーダー出力フォーマット: %s",
		"Encoder input ended after %d frames":            "エンコーダー入力を %d フレームで終了しました",
		"Encoder reached end of stream after %d packets": "エンコーダーが %d パケットで終端に達しました",

		// Muxer
		"Muxer started with track %d (%s)":                      "トラック %d でマルチプレクサを開始しました (%s)",
		"Wrote sample %d (%d bytes, pts %d, %s)":                "サンプル %d を書き込みました (%d バイト, pts %d, %s)",
		"Muxer finished after %d samples":                       "%d サンプルでマルチプレクサを終了しました",
		"Ignoring output format change to %s after muxer start": "マルチプレクサ開始後のフォーマット変更 %s を無視します",
	})
}

package handler

import (
	"fmt"
	"sort"

	"github.com/hitoshi/babyprofile/internal/model"
)

// question はプロフィールの質問項目。Scaleが空の場合は自由記述。
type question struct {
	Key   string
	Label string
	Scale []int
}

// questions はプロフィール作成画面で表示する質問。
var questions = []question{
	{Key: "question1_score", Label: "Q1. 例の質問です。（1〜5点）", Scale: []int{1, 2, 3, 4, 5}},
	{Key: "memo", Label: "メモ"},
}

// answerRow は表示用の質問と回答の組。
type answerRow struct {
	Label string
	Value string
}

// answerRows は回答を質問の定義順に並べる。未定義のキーはキー名の順で後ろに付ける。
func answerRows(answers model.Answers) []answerRow {
	rows := make([]answerRow, 0, len(answers))
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.Key] = true
		if v, ok := answers[q.Key]; ok {
			rows = append(rows, answerRow{Label: q.Label, Value: formatAnswer(v)})
		}
	}

	var extra []string
	for k := range answers {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		rows = append(rows, answerRow{Label: k, Value: formatAnswer(answers[k])})
	}
	return rows
}

func formatAnswer(v any) string {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

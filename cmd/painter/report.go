package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fpang/painting-studio/internal/cli"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/fpang/painting-studio/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxIssueWidth = 48

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// tableSpec describes one rendered table.
type tableSpec struct {
	title   string
	headers []string
	aligns  []columnAlignment
	rows    [][]string
	footer  []string
}

func renderTable(spec tableSpec) string {
	columns := len(spec.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if spec.title != "" {
		tw.SetTitle(spec.title)
	}
	tw.AppendHeader(toRow(spec.headers, columns))
	for _, row := range spec.rows {
		tw.AppendRow(toRow(row, columns))
	}
	if len(spec.footer) > 0 {
		tw.AppendFooter(toRow(spec.footer, columns))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(spec.aligns) && spec.aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:           i + 1,
			Align:            align,
			AlignHeader:      text.AlignLeft,
			AlignFooter:      align,
			WidthMax:         maxIssueWidth,
			WidthMaxEnforcer: text.WrapSoft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func toRow(cells []string, columns int) table.Row {
	row := make(table.Row, columns)
	for i := range columns {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	return row
}

// renderResults renders the stage table of a persisted run.
func renderResults(res *store.Results) string {
	rec := res.Record
	title := fmt.Sprintf("%s  %s  %s", rec.Name, rec.Status, rec.StartedAt.Local().Format("2006-01-02 15:04"))

	var rows [][]string
	for i := range rec.Stages {
		rows = append(rows, stageRow(&rec.Stages[i]))
	}
	if f := res.Failure; f != nil && f.Stage > 0 {
		rows = append(rows, []string{
			strconv.Itoa(f.Stage), f.Name, f.Kind, strconv.Itoa(len(f.Attempts)), "-", "-", lastIssues(f.Attempts),
		})
	}

	s := res.Summary
	return renderTable(tableSpec{
		title:   title,
		headers: []string{"#", "Stage", "State", "Attempts", "Accepted", "Score", "Issues"},
		aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		rows:    rows,
		footer: []string{
			"", fmt.Sprintf("%d/%d stages", s.StagesCompleted, s.StagesTotal),
			fmt.Sprintf("%d best effort", s.StagesBestEffort), strconv.Itoa(s.TotalAttempts),
			"", cli.FormatScore(s.AverageScore, s.StagesCompleted > 0), "",
		},
	})
}

func stageRow(stage *pipeline.StageResult) []string {
	score, scored := acceptedScore(stage)
	accepted := "-"
	if a := stage.Accepted(); a != nil {
		accepted = strconv.Itoa(a.Number)
	}
	return []string{
		strconv.Itoa(stage.Index),
		stage.Name,
		stage.State.String(),
		strconv.Itoa(len(stage.Attempts)),
		accepted,
		cli.FormatScore(score, scored),
		acceptedIssues(stage),
	}
}

func acceptedIssues(stage *pipeline.StageResult) string {
	if a := stage.Accepted(); a != nil && a.Critique != nil {
		return strings.Join(a.Critique.Issues, "; ")
	}
	return ""
}

// lastIssues describes the final attempt of a failed stage.
func lastIssues(attempts []pipeline.Attempt) string {
	if len(attempts) == 0 {
		return ""
	}
	last := attempts[len(attempts)-1]
	switch {
	case last.Failure != nil:
		return last.Failure.Message
	case last.Critique != nil:
		return strings.Join(last.Critique.Issues, "; ")
	}
	return ""
}

// renderIndexedRun renders a run read back from the DynamoDB index.
func renderIndexedRun(run *store.RunItem, stageItems []store.StageItem) string {
	title := fmt.Sprintf("%s  %s  %s", run.Name, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04"))

	rows := make([][]string, 0, len(stageItems))
	for _, st := range stageItems {
		accepted := "-"
		if st.Accepted > 0 {
			accepted = strconv.Itoa(st.Accepted)
		}
		rows = append(rows, []string{
			strconv.Itoa(st.Index), st.Name, st.State, strconv.Itoa(st.Attempts), accepted,
			cli.FormatScore(st.Score, st.Accepted > 0), strings.Join(st.Issues, "; "),
		})
	}

	return renderTable(tableSpec{
		title:   title,
		headers: []string{"#", "Stage", "State", "Attempts", "Accepted", "Score", "Issues"},
		aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		rows:    rows,
		footer: []string{
			"", fmt.Sprintf("%d/%d stages", run.StagesCompleted, run.StagesTotal),
			fmt.Sprintf("%d best effort", run.StagesBestEffort), strconv.Itoa(run.TotalAttempts),
			"", cli.FormatScore(run.AverageScore, run.StagesCompleted > 0), "",
		},
	})
}

// renderBatch renders one row per photo of a batch.
func renderBatch(outcomes []*runOutcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		status, stages, avg, note := "error", "-", "-", ""
		if res := o.Results; res != nil {
			status = string(res.Record.Status)
			stages = fmt.Sprintf("%d/%d", res.Summary.StagesCompleted, res.Summary.StagesTotal)
			avg = cli.FormatScore(res.Summary.AverageScore, res.Summary.StagesCompleted > 0)
			note = describeFailure(res)
		}
		if note == "" && o.Err != nil {
			note = o.Err.Error()
		}
		rows = append(rows, []string{o.Photo, status, stages, avg, o.Dir, note})
	}
	return renderTable(tableSpec{
		headers: []string{"Photo", "Status", "Stages", "Avg", "Session", "Note"},
		aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		rows:    rows,
	})
}

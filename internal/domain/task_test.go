package domain

import "testing"

func TestDecodeTask(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		taskN TaskNumber
		lang  Language
	}{
		{"numeric task_n", `{"task_id":"t1","src_url":"s3://b/k","contest":"c1","language":"Python","task_n":3}`, 3, LangPython},
		{"string task_n", `{"task_id":"t1","src_url":"s3://b/k","contest":"c1","language":" cpp ","task_n":"7"}`, 7, LangCpp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := DecodeTask([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if task.TaskN != tt.taskN {
				t.Errorf("expected task_n %d, got %d", tt.taskN, task.TaskN)
			}
			if task.Language != tt.lang {
				t.Errorf("expected language %q, got %q", tt.lang, task.Language)
			}
			if err := task.Validate(); err != nil {
				t.Errorf("expected a valid task, got %v", err)
			}
		})
	}
}

func TestDecodeTask_Malformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"task_n":"three"}`} {
		if _, err := DecodeTask([]byte(body)); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}

func TestTask_Validate(t *testing.T) {
	valid := Task{TaskID: "t1", SrcURL: "https://x/y.zip", Contest: "c1", TaskN: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, mutate := range map[string]func(*Task){
		"missing id":     func(t *Task) { t.TaskID = " " },
		"path separator": func(t *Task) { t.TaskID = "a/b" },
		"dot dot":        func(t *Task) { t.TaskID = ".." },
		"missing url":    func(t *Task) { t.SrcURL = "" },
		"missing task_n": func(t *Task) { t.TaskN = 0 },
	} {
		task := valid
		mutate(&task)
		if err := task.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for s, want := range map[TaskStatus]bool{
		StatusNew:              false,
		StatusWaitingForUpload: false,
		StatusProcessing:       false,
		StatusDone:             true,
		StatusReqsNotPassed:    true,
	} {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s: expected %v, got %v", s, want, got)
		}
	}
}

func TestNewTerminalRecord(t *testing.T) {
	stats := &AggregateStats{AvgTime: 0.2}
	rec := NewTerminalRecord("t1", OutcomeRecord{Code: OutcomeOK, Stats: stats})
	if rec.Status != StatusDone || *rec.Result != OutcomeOK {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.TestFailed != nil || rec.Output != nil {
		t.Error("unset fields must stay nil")
	}
	stats.AvgTime = 9
	if rec.Stats.AvgTime != 0.2 {
		t.Error("the record must own a copy of the stats")
	}

	wa := NewTerminalRecord("t1", OutcomeRecord{Code: OutcomeWrongAnswer, FailedTest: 2, Diagnostic: "expected 3"})
	if *wa.TestFailed != 2 || *wa.Output != "expected 3" || wa.Stats != nil {
		t.Errorf("unexpected WA record %+v", wa)
	}

	rej := NewRejectedRecord("t1", "too big")
	if rej.Status != StatusReqsNotPassed || rej.Result != nil || *rej.Output != "too big" {
		t.Errorf("unexpected rejected record %+v", rej)
	}
}

package model

import "testing"

func TestRawArtifactPath(t *testing.T) {
	got := RawArtifactPath("06283", 2024)
	want := "station_id=06283/year=2024/data.json"
	if got != want {
		t.Errorf("RawArtifactPath() = %q, want %q", got, want)
	}
}

func TestRefinedPartitionPath(t *testing.T) {
	got := RefinedPartitionPath("06283", 2024, 3, "parquet")
	want := "station_id=06283/year=2024/month=03/data.parquet"
	if got != want {
		t.Errorf("RefinedPartitionPath() = %q, want %q", got, want)
	}
}

func TestPerStationOutcome_FailedYears(t *testing.T) {
	o := PerStationOutcome{
		Results: []ChunkResult{
			{Year: 2020, Status: ChunkCompleted},
			{Year: 2021, Status: ChunkFailed},
			{Year: 2022, Status: ChunkSkipped},
			{Year: 2023, Status: ChunkFailed},
		},
	}
	got := o.FailedYears()
	want := []int{2021, 2023}
	if len(got) != len(want) {
		t.Fatalf("FailedYears() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FailedYears()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRunOutcome_Totals(t *testing.T) {
	r := RunOutcome{
		Stations: []PerStationOutcome{
			{Completed: 3, Skipped: 1, Failed: 0},
			{Completed: 2, Skipped: 0, Failed: 2},
		},
	}
	if r.TotalCompleted() != 5 {
		t.Errorf("TotalCompleted() = %d, want 5", r.TotalCompleted())
	}
	if r.TotalSkipped() != 1 {
		t.Errorf("TotalSkipped() = %d, want 1", r.TotalSkipped())
	}
	if r.TotalFailed() != 2 {
		t.Errorf("TotalFailed() = %d, want 2", r.TotalFailed())
	}
}

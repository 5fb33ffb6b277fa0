package job_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/job"
)

func TestDeriveIDIsDeterministic(t *testing.T) {
	studyID := uuid.New()
	a := job.DeriveID(studyID, 2, "chatgpt", "us-east")
	b := job.DeriveID(studyID, 2, "chatgpt", "us-east")
	if a != b {
		t.Errorf("DeriveID is not deterministic: %s != %s", a, b)
	}
}

func TestDeriveIDDistinguishesEveryInput(t *testing.T) {
	studyID := uuid.New()
	base := job.DeriveID(studyID, 0, "chatgpt", "us-east")

	variants := []uuid.UUID{
		job.DeriveID(uuid.New(), 0, "chatgpt", "us-east"),
		job.DeriveID(studyID, 1, "chatgpt", "us-east"),
		job.DeriveID(studyID, 0, "perplexity", "us-east"),
		job.DeriveID(studyID, 0, "chatgpt", "eu-west"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base id", i)
		}
	}
}

func TestCellIDMatchesDeriveID(t *testing.T) {
	c := job.Cell{StudyID: uuid.New(), QueryIndex: 1, SurfaceID: "chatgpt", LocationID: "us-east"}
	want := job.DeriveID(c.StudyID, c.QueryIndex, c.SurfaceID, c.LocationID)
	if got := c.ID(); got != want {
		t.Errorf("Cell.ID() = %s, want %s", got, want)
	}
}

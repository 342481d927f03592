package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPartExam() *ExamDefinition {
	return &ExamDefinition{
		Title: "Speaking Mock",
		Parts: []Part{
			{ID: "p1", Label: "Part 1", Questions: []Question{
				{ID: "q1", PrepSeconds: 5, SpeakSeconds: 10},
				{ID: "q2", PrepSeconds: 0, SpeakSeconds: 20},
			}},
			{ID: "p2", Label: "Part 2", Questions: []Question{
				{ID: "q3", PrepSeconds: 60, SpeakSeconds: 120, MediaURL: "https://cdn.local/q3.mp3"},
			}},
		},
	}
}

func TestSequenceFlattensInOrder(t *testing.T) {
	seq := twoPartExam().Sequence()

	ids := make([]string, 0, len(seq))
	for _, q := range seq {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{"q1", "q2", "q3"}, ids)
	assert.Equal(t, "p1", seq[1].PartID)
	assert.Equal(t, "p2", seq[2].PartID)
	assert.True(t, seq[2].HasAudio())
	assert.False(t, seq[0].HasAudio())
}

func TestSequenceDoesNotMutateDefinition(t *testing.T) {
	def := twoPartExam()
	_ = def.Sequence()
	assert.Empty(t, def.Parts[0].Questions[0].PartID)
}

func TestAllottedSeconds(t *testing.T) {
	assert.Equal(t, 5+10+0+20+60+120, twoPartExam().AllottedSeconds())
}

func TestDuplicateQuestionID(t *testing.T) {
	_, dup := twoPartExam().DuplicateQuestionID()
	assert.False(t, dup)

	def := twoPartExam()
	def.Parts[1].Questions[0].ID = "q1"
	id, dup := def.DuplicateQuestionID()
	assert.True(t, dup)
	assert.Equal(t, "q1", id)
}

func TestStageTimed(t *testing.T) {
	assert.False(t, StageReading.Timed())
	assert.True(t, StagePreparing.Timed())
	assert.True(t, StageSpeaking.Timed())
	assert.False(t, StageComplete.Timed())
}

func TestDecodePrompt(t *testing.T) {
	pc, err := Question{Prompt: json.RawMessage(`{"text":"Describe a trip","bullets":["where","when"]}`)}.DecodePrompt()
	require.NoError(t, err)
	assert.Equal(t, "Describe a trip", pc.Text)
	assert.Equal(t, []string{"where", "when"}, pc.Bullets)

	pc, err = Question{}.DecodePrompt()
	require.NoError(t, err)
	assert.Zero(t, pc)

	_, err = Question{Prompt: json.RawMessage(`"just text"`)}.DecodePrompt()
	assert.Error(t, err)
}

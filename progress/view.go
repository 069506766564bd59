package progress

import "github.com/cppla/questboard/models"

// QuestView is a quest annotated with the caller's progress and completion state.
type QuestView struct {
	models.Quest
	Result
	Completed bool `json:"completed"`
}

// Annotate joins the active quest catalog with a user's completions and counters.
// A completed quest is never offered as completable again.
func Annotate(quests []models.Quest, completions []models.UserQuestCompletion, c Counters) []QuestView {
	done := make(map[string]bool, len(completions))
	for _, qc := range completions {
		done[qc.QuestID] = true
	}

	views := make([]QuestView, 0, len(quests))
	for _, q := range quests {
		v := QuestView{Quest: q, Result: Evaluate(q, c), Completed: done[q.ID]}
		if v.Completed {
			v.Percent = 100
			v.CanComplete = false
		}
		views = append(views, v)
	}
	return views
}

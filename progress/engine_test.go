package progress

import (
	"testing"

	"github.com/cppla/questboard/models"
)

func quest(t models.QuestType, req string) models.Quest {
	q := models.Quest{ID: "q1", QuestType: t}
	if req != "" {
		q.Requirements = []byte(req)
	}
	return q
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name        string
		quest       models.Quest
		counters    Counters
		wantPercent int
		wantOK      bool
	}{
		{"referral partial", quest(models.QuestReferral, `{"referrals_required":5}`), Counters{ReferralCount: 3}, 60, false},
		{"referral met", quest(models.QuestReferral, `{"referrals_required":5}`), Counters{ReferralCount: 5}, 100, true},
		{"referral clamps above 100", quest(models.QuestReferral, `{"referrals_required":5}`), Counters{ReferralCount: 12}, 100, true},
		{"referral legacy count key", quest(models.QuestReferral, `{"count":4}`), Counters{ReferralCount: 1}, 25, false},
		{"referral prefers referrals_required", quest(models.QuestReferral, `{"referrals_required":2,"count":10}`), Counters{ReferralCount: 2}, 100, true},
		{"referral zero threshold falls through", quest(models.QuestReferral, `{"referrals_required":0,"count":3}`), Counters{ReferralCount: 1}, 33, false},
		{"referral numeric string", quest(models.QuestReferral, `{"referrals_required":"3"}`), Counters{ReferralCount: 2}, 67, false},
		{"referral no threshold", quest(models.QuestReferral, `{"foo":1}`), Counters{ReferralCount: 9}, 0, false},
		{"streak partial", quest(models.QuestDaily, `{"streak_required":7}`), Counters{CurrentStreak: 3}, 43, false},
		{"streak met", quest(models.QuestDaily, `{"streak_required":7}`), Counters{CurrentStreak: 7}, 100, true},
		{"login not yet", quest(models.QuestDaily, `{"action":"login"}`), Counters{}, 0, false},
		{"login done", quest(models.QuestDaily, `{"action":"login"}`), Counters{CheckedInToday: true}, 100, true},
		{"daily unknown action", quest(models.QuestDaily, `{"action":"post"}`), Counters{CheckedInToday: true}, 0, false},
		{"absent requirements", quest(models.QuestReferral, ""), Counters{ReferralCount: 10}, 0, true},
		{"null requirements", quest(models.QuestDaily, "null"), Counters{}, 0, true},
		{"manual never auto completes", quest(models.QuestOnetime, `{"url":"https://example.com"}`), Counters{ReferralCount: 50}, 0, false},
		{"manual absent", quest(models.QuestVerification, ""), Counters{}, 0, true},
		{"social always zero", quest(models.QuestSocial, `{"platform":"twitter"}`), Counters{CheckedInToday: true}, 0, false},
		{"milestone with document needs an award", quest(models.QuestMilestone, `{"points":100}`), Counters{}, 0, false},
		{"milestone absent", quest(models.QuestMilestone, ""), Counters{}, 0, true},
		{"social absent", quest(models.QuestSocial, "null"), Counters{}, 0, true},
		{"unknown type", quest("mystery", ""), Counters{}, 0, false},
		{"malformed document", quest(models.QuestReferral, `{not json`), Counters{ReferralCount: 1}, 0, false},
		{"array document", quest(models.QuestDaily, `[1,2]`), Counters{CurrentStreak: 3}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.quest, tc.counters)
			if got.Percent != tc.wantPercent {
				t.Fatalf("expected percent %d, got %d", tc.wantPercent, got.Percent)
			}
			if got.CanComplete != tc.wantOK {
				t.Fatalf("expected canComplete %v, got %v", tc.wantOK, got.CanComplete)
			}
		})
	}
}

func TestPercentStaysInRange(t *testing.T) {
	q := quest(models.QuestReferral, `{"referrals_required":3}`)
	for n := -5; n <= 20; n++ {
		p := Percent(q, Counters{ReferralCount: n})
		if p < 0 || p > 100 {
			t.Fatalf("percent out of range for count %d: %d", n, p)
		}
	}
}

func TestParseKinds(t *testing.T) {
	if k := Parse(models.QuestReferral, []byte(`{"count":2}`)).Kind; k != KindReferralThreshold {
		t.Fatalf("expected referral threshold, got %s", k)
	}
	if k := Parse(models.QuestDaily, []byte(`{"streak_required":2}`)).Kind; k != KindStreakThreshold {
		t.Fatalf("expected streak threshold, got %s", k)
	}
	if k := Parse(models.QuestEngagement, []byte(`{}`)).Kind; k != KindManual {
		t.Fatalf("expected manual, got %s", k)
	}
	if k := Parse(models.QuestSocial, nil).Kind; k != KindAbsent {
		t.Fatalf("expected absent, got %s", k)
	}
	if k := Parse(models.QuestMilestone, []byte(`{"points":5}`)).Kind; k != KindManual {
		t.Fatalf("expected manual, got %s", k)
	}
	if k := Parse("mystery", nil).Kind; k != KindUnknown {
		t.Fatalf("expected unknown, got %s", k)
	}
}

func TestAnnotateMarksCompleted(t *testing.T) {
	quests := []models.Quest{
		quest(models.QuestReferral, `{"referrals_required":2}`),
		{ID: "q2", QuestType: models.QuestDaily, Requirements: []byte(`{"action":"login"}`)},
	}
	completions := []models.UserQuestCompletion{{QuestID: "q1"}}

	views := Annotate(quests, completions, Counters{ReferralCount: 1, CheckedInToday: true})
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if !views[0].Completed || views[0].CanComplete || views[0].Percent != 100 {
		t.Fatalf("completed quest should be 100%% and not completable: %+v", views[0].Result)
	}
	if views[1].Completed || !views[1].CanComplete {
		t.Fatalf("login quest should be completable: %+v", views[1].Result)
	}
}

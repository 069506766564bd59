package models

// All lists every model for auto-migration.
func All() []interface{} {
	return []interface{}{
		&Profile{},
		&Quest{},
		&DailyCheckin{},
		&UserQuestCompletion{},
		&UserActivity{},
		&ReferralReward{},
		&SocialTaskSubmission{},
	}
}

package arena

// RankedScore is a derived projection over UserScore. Equal scores rank by
// ascending user id so repeated reads are stable.
type RankedScore struct {
	UserId UserId
	Score  int
	Rank   int
}

// RankIndex orders all users by (score desc, userId asc). It is rebuildable
// from the score ledger and never a source of truth.
type RankIndex interface {
	Update(score UserScore)

	TopN(n int) []RankedScore

	RankOf(userId UserId) (RankedScore, bool)

	Rebuild(scores []UserScore)

	Len() int
}

package pbc

import "time"

type Period struct {
	ID        int64     `json:"periodId"`
	Year      int       `json:"year"`
	Quarter   int       `json:"quarter"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    string    `json:"status"`
}

type Goal struct {
	ID                int64      `json:"goalId"`
	UserID            int64      `json:"userId"`
	PeriodID          int64      `json:"periodId"`
	Type              string     `json:"goalType"`
	Name              string     `json:"goalName"`
	Description       string     `json:"goalDescription"`
	Weight            float64    `json:"goalWeight"`
	ParentGoalID      *int64     `json:"parentGoalId"`
	SupervisorGoalID  *int64     `json:"supervisorGoalId"`
	Measures          string     `json:"measures,omitempty"`
	Unacceptable      string     `json:"unacceptable,omitempty"`
	Acceptable        string     `json:"acceptable,omitempty"`
	Excellent         string     `json:"excellent,omitempty"`
	CompletionTime    *time.Time `json:"completionTime"`
	Status            string     `json:"status"`
	SelfScore         *float64   `json:"selfScore"`
	SelfComment       *string    `json:"selfComment"`
	SupervisorScore   *float64   `json:"supervisorScore"`
	SupervisorComment *string    `json:"supervisorComment"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// TopLevel reports whether the goal carries workflow status and weight
// itself rather than mirroring a parent.
func (g Goal) TopLevel() bool {
	return g.ParentGoalID == nil
}

type Approval struct {
	ID           int64     `json:"approvalId"`
	GoalID       int64     `json:"goalId"`
	ReviewerID   int64     `json:"reviewerId"`
	ReviewerName string    `json:"reviewerName,omitempty"`
	Action       string    `json:"action"`
	Comments     string    `json:"comments,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Evaluation struct {
	ID                       int64      `json:"evaluationId"`
	UserID                   int64      `json:"userId"`
	PeriodID                 int64      `json:"periodId"`
	SelfOverallComment       *string    `json:"selfOverallComment"`
	SelfSubmittedAt          *time.Time `json:"selfSubmittedAt"`
	SupervisorOverallComment *string    `json:"supervisorOverallComment"`
	SupervisorSubmittedAt    *time.Time `json:"supervisorSubmittedAt"`
}

type CohortSummary struct {
	Total        int            `json:"total"`
	Status       string         `json:"status"`
	StatusDetail map[string]int `json:"statusDetail"`
	Message      string         `json:"message"`
}

type TeamGoal struct {
	Goal
	UserName       string `json:"userName"`
	DepartmentName string `json:"departmentName,omitempty"`
	PeriodYear     int    `json:"periodYear"`
	PeriodQuarter  int    `json:"periodQuarter"`
}

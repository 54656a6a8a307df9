package reporting

// DashboardSummary aggregates a user's recent calls for the dashboard
// header: how many calls ran, how they ended and what the detector decided.

type DashboardSummary struct {
	UserID string `json:"userId"`

	TotalCalls      int `json:"totalCalls"`
	CompletedCalls  int `json:"completedCalls"`
	FailedCalls     int `json:"failedCalls"`
	NoAnswerCalls   int `json:"noAnswerCalls"`
	BusyCalls       int `json:"busyCalls"`
	CanceledCalls   int `json:"canceledCalls"`
	InProgressCalls int `json:"inProgressCalls"`

	HumanDetected   int `json:"humanDetected"`
	MachineDetected int `json:"machineDetected"`
	Undecided       int `json:"undecided"`

	MLStrategyCalls     int `json:"mlStrategyCalls"`
	NativeStrategyCalls int `json:"nativeStrategyCalls"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`
}

package models

import "time"

// Patient is the subject of access events. The name is envelope-encrypted at
// rest; NameEncrypted/NameKeyID carry the ciphertext and KMS key reference.
type Patient struct {
	PatientBucket    int       `db:"patient_bucket" json:"-"`
	PatientID        string    `db:"patient_id" json:"patient_id"`
	NameEncrypted    []byte    `db:"name_encrypted" json:"-"`
	NameKeyID        string    `db:"name_key_id" json:"-"`
	Age              int       `db:"age" json:"age"`
	Ward             string    `db:"ward" json:"ward"`
	AssignedDoctorID string    `db:"assigned_doctor_id" json:"assigned_doctor_id"`
	SchemeEligible   string    `db:"scheme_eligible" json:"scheme_eligible"`
	RiskScore        float64   `db:"risk_score" json:"risk_score"`
	State            string    `db:"state" json:"state"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

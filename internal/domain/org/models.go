package org

import "time"

const (
	RoleEmployee  = "employee"
	RoleAssistant = "assistant"
	RoleManager   = "manager"
	RoleGM        = "gm"
)

type User struct {
	ID             int64     `json:"userId"`
	Username       string    `json:"username"`
	RealName       string    `json:"realName"`
	JobTitle       string    `json:"jobTitle"`
	Role           string    `json:"role"`
	DepartmentID   *int64    `json:"departmentId"`
	SupervisorID   *int64    `json:"supervisorId"`
	Organization   string    `json:"organization"`
	DingtalkUserID string    `json:"dingtalkUserId"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Department struct {
	ID        int64     `json:"departmentId"`
	Name      string    `json:"departmentName"`
	ParentID  *int64    `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
}

type DepartmentNode struct {
	Department
	Children []*DepartmentNode `json:"children"`
}

func ValidRole(role string) bool {
	switch role {
	case RoleEmployee, RoleAssistant, RoleManager, RoleGM:
		return true
	}
	return false
}

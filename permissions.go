package auth

import (
	"sort"
	"strings"
)

// Permission is a member of the closed permission vocabulary
type Permission = string

const (
	PermViewDashboard Permission = "viewDashboard"

	PermAddUser    Permission = "addUser"
	PermGetUsers   Permission = "getUsers"
	PermEditUser   Permission = "editUser"
	PermDeleteUser Permission = "deleteUser"

	PermCreateBlog    Permission = "createBlog"
	PermGetBlog       Permission = "getBlog"
	PermEditBlog      Permission = "editBlog"
	PermDeleteBlog    Permission = "deleteBlog"
	PermCreateBlogAPI Permission = "createBlogApi"
	PermGetBlogAPI    Permission = "getBlogApi"
	PermEditBlogAPI   Permission = "editBlogApi"
	PermDeleteBlogAPI Permission = "deleteBlogApi"

	PermAddEvent       Permission = "addEvent"
	PermGetEvent       Permission = "getEvent"
	PermEditEvent      Permission = "editEvent"
	PermDeleteEvent    Permission = "deleteEvent"
	PermCreateEventAPI Permission = "createEventApi"
	PermGetEventAPI    Permission = "getEventApi"
	PermUpdateEventAPI Permission = "updateEventApi"
	PermDeleteEventAPI Permission = "deleteEventApi"

	PermCreateCampaignAPI Permission = "createCampaignApi"
	PermGetCampaignAPI    Permission = "getCampaignApi"
	PermEditCampaignAPI   Permission = "editCampaignApi"
	PermDeleteCampaignAPI Permission = "deleteCampaignApi"
	PermUploadCampaign    Permission = "uploadCampaign"
	PermExportCampaign    Permission = "exportCampaign"
	PermGetCampaign       Permission = "getCampaign"
	PermDeleteCampaign    Permission = "deleteCampaign"

	PermCreateWebsiteAPI  Permission = "createWebsiteApi"
	PermGetWebsiteAPI     Permission = "getWebsiteApi"
	PermEditWebsiteAPI    Permission = "editWebsiteApi"
	PermDeleteWebsiteAPI  Permission = "deleteWebsiteApi"
	PermGetWebsiteAPIByID Permission = "getWebsiteApiById"
	PermCreateWebsite     Permission = "createWebsite"
	PermGetWebsite        Permission = "getWebsite"
	PermListWebsites      Permission = "listWebsites"
	PermEditWebsite       Permission = "editWebsite"
	PermDeleteWebsite     Permission = "deleteWebsite"
	PermGetWebsiteByID    Permission = "getWebsiteById"
)

var vocabulary = map[Permission]struct{}{}

func init() {
	for _, p := range AllPermissions() {
		vocabulary[p] = struct{}{}
	}
}

// AllPermissions returns the full vocabulary
func AllPermissions() []Permission {
	return []Permission{
		PermViewDashboard,
		PermAddUser, PermGetUsers, PermEditUser, PermDeleteUser,
		PermCreateBlog, PermGetBlog, PermEditBlog, PermDeleteBlog,
		PermCreateBlogAPI, PermGetBlogAPI, PermEditBlogAPI, PermDeleteBlogAPI,
		PermAddEvent, PermGetEvent, PermEditEvent, PermDeleteEvent,
		PermCreateEventAPI, PermGetEventAPI, PermUpdateEventAPI, PermDeleteEventAPI,
		PermCreateCampaignAPI, PermGetCampaignAPI, PermEditCampaignAPI, PermDeleteCampaignAPI,
		PermUploadCampaign, PermExportCampaign, PermGetCampaign, PermDeleteCampaign,
		PermCreateWebsiteAPI, PermGetWebsiteAPI, PermEditWebsiteAPI, PermDeleteWebsiteAPI,
		PermGetWebsiteAPIByID, PermCreateWebsite, PermGetWebsite, PermListWebsites,
		PermEditWebsite, PermDeleteWebsite, PermGetWebsiteByID,
	}
}

// DefaultAdminPermissions is the set granted to a PrimaryAdmin on registration.
// Website permissions are granted explicitly.
func DefaultAdminPermissions() []Permission {
	return []Permission{
		PermViewDashboard,
		PermAddUser, PermGetUsers, PermEditUser, PermDeleteUser,
		PermCreateBlog, PermGetBlog, PermEditBlog, PermDeleteBlog,
		PermCreateBlogAPI, PermEditBlogAPI, PermGetBlogAPI, PermDeleteBlogAPI,
		PermAddEvent, PermGetEvent, PermEditEvent, PermDeleteEvent,
		PermCreateEventAPI, PermUpdateEventAPI, PermGetEventAPI, PermDeleteEventAPI,
		PermCreateCampaignAPI, PermGetCampaignAPI, PermDeleteCampaignAPI, PermEditCampaignAPI,
		PermUploadCampaign, PermExportCampaign, PermGetCampaign, PermDeleteCampaign,
	}
}

// IsKnownPermission checks membership in the vocabulary
func IsKnownPermission(p string) bool {
	_, ok := vocabulary[p]
	return ok
}

// ValidatePermissions fails with ErrUnknownPermission listing every unknown name
func ValidatePermissions(perms []string) error {
	var unknown []string
	for _, p := range perms {
		if !IsKnownPermission(p) {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return withMetadata(ErrUnknownPermission, map[string]any{
		"permissions": strings.Join(unknown, ", "),
	})
}

// NormalizePermissions validates, deduplicates and sorts a permission list
func NormalizePermissions(perms []string) ([]Permission, error) {
	if err := ValidatePermissions(perms); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

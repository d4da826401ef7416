package exporter_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/exporter"
)

var _ = Describe("Server", func() {
	var (
		acct    *fakeAccount
		handler http.Handler
	)

	BeforeEach(func() {
		acct = newFakeAccount(vin1, vin2)
		acct.table.Put(vin1, cache.Battery, map[string]interface{}{
			"batteryChargeLevelPercentage": 81.0,
			"estimatedDistanceToEmptyKm":   324.0,
			"chargingStatus":               "CHARGING_STATUS_IDLE",
		})
		acct.table.Put(vin1, cache.Odometer, nil)
		handler = exporter.NewServer("127.0.0.1:0", acct).Handler()
	})

	do := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]interface{} {
		var reply map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
		return reply
	}

	It("reports health", func() {
		rec := do(http.MethodGet, "/healthz")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("ok"))
	})

	It("lists vehicles", func() {
		rec := do(http.MethodGet, "/api/vehicles")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

		vehicles := decode(rec)["response"].([]interface{})
		Expect(vehicles).To(HaveLen(2))
		first := vehicles[0].(map[string]interface{})
		Expect(first).To(HaveKeyWithValue("vin", vin1))
		Expect(first).To(HaveKeyWithValue("model", "Polestar 2"))
		Expect(first).To(HaveKeyWithValue("model_year", "2023"))
		Expect(first).To(HaveKeyWithValue("registration_no", "ABC001"))
	})

	It("describes a vehicle with its sensors", func() {
		rec := do(http.MethodGet, "/api/vehicles/"+vin1)
		Expect(rec.Code).To(Equal(http.StatusOK))

		detail := decode(rec)["response"].(map[string]interface{})
		sensors := detail["sensors"].(map[string]interface{})
		Expect(sensors).To(HaveKeyWithValue("battery_charge_level", 81.0))
		Expect(sensors).To(HaveKeyWithValue("estimated_full_charge_range", 400.0))
		Expect(sensors).To(HaveKeyWithValue("software_version", "P3.2"))
		Expect(sensors).To(HaveKey("current_odometer"))
		Expect(sensors["current_odometer"]).To(BeNil())
		Expect(sensors).To(HaveKeyWithValue("api_status_code_data", 200.0))
		Expect(sensors).To(HaveKeyWithValue("api_token_expires_at", "2024-05-01T13:00:00Z"))
		Expect(sensors).ToNot(HaveKey("api_status_code_auth"))
	})

	It("accepts lower-case VINs", func() {
		Expect(do(http.MethodGet, "/api/vehicles/lpsvsedeeml000001").Code).To(Equal(http.StatusOK))
	})

	It("rejects unknown vehicles", func() {
		rec := do(http.MethodGet, "/api/vehicles/UNKNOWN")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(decode(rec)).To(HaveKeyWithValue("error", "unknown vin UNKNOWN"))

		Expect(do(http.MethodGet, "/api/vehicles/UNKNOWN/battery/chargingStatus").Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodPost, "/api/vehicles/UNKNOWN/refresh").Code).To(Equal(http.StatusNotFound))
	})

	Describe("fields", func() {
		It("returns found values", func() {
			rec := do(http.MethodGet, "/api/vehicles/"+vin1+"/battery/batteryChargeLevelPercentage")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKeyWithValue("response", 81.0))

			rec = do(http.MethodGet, "/api/vehicles/"+vin1+"/info/content/model/name")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKeyWithValue("response", "Polestar 2"))
		})

		It("returns no content for known-empty payloads", func() {
			rec := do(http.MethodGet, "/api/vehicles/"+vin1+"/odometer/odometerMeters")
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Body.Len()).To(BeZero())
		})

		It("returns not found for missing values", func() {
			Expect(do(http.MethodGet, "/api/vehicles/"+vin2+"/battery/chargingStatus").Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodGet, "/api/vehicles/"+vin1+"/battery/tirePressure").Code).To(Equal(http.StatusNotFound))
		})

		It("honours skip_ttl", func() {
			acct.clock.SetTime(epoch.Add(time.Hour))
			path := "/api/vehicles/" + vin1 + "/battery/chargingStatus"
			Expect(do(http.MethodGet, path).Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodGet, path+"?skip_ttl=true").Code).To(Equal(http.StatusOK))
		})

		It("rejects unknown kinds", func() {
			rec := do(http.MethodGet, "/api/vehicles/"+vin1+"/tyres/pressure")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)).To(HaveKey("error"))
		})
	})

	It("refreshes on request", func() {
		rec := do(http.MethodPost, "/api/vehicles/"+vin2+"/refresh")
		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(acct.Refreshed()).To(Equal([]string{vin2}))
	})

	It("reports status", func() {
		rec := do(http.MethodGet, "/api/status")
		Expect(rec.Code).To(Equal(http.StatusOK))

		status := decode(rec)["response"].(map[string]interface{})
		Expect(status).To(HaveKeyWithValue("connected", true))
		Expect(status).To(HaveKeyWithValue("state", "idle"))
		Expect(status).To(HaveKeyWithValue("token_expires_at", "2024-05-01T13:00:00Z"))
		Expect(status).NotTo(HaveKey("next_update"))
		Expect(status["endpoints"]).To(Equal(map[string]interface{}{graphql.BaseURL: 200.0}))
	})

	It("serves metrics", func() {
		rec := do(http.MethodGet, "/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))

		body := rec.Body.String()
		Expect(body).To(ContainSubstring(`polestar_sensor_value{sensor="battery_charge_level",unit="%",vin="` + vin1 + `"} 81`))
		Expect(body).To(ContainSubstring(`polestar_sensor_value{sensor="estimated_full_charge_range",unit="km",vin="` + vin1 + `"} 400`))
		Expect(body).To(ContainSubstring("polestar_api_connected 1"))
		Expect(body).To(ContainSubstring("polestar_refresh_in_progress 0"))
		Expect(body).NotTo(ContainSubstring(`sensor="charging_status"`))
		Expect(body).NotTo(ContainSubstring(`vin="` + vin2 + `"`))
	})

	It("returns JSON for unknown routes", func() {
		rec := do(http.MethodGet, "/nope")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(decode(rec)).To(HaveKeyWithValue("error", "not found"))
	})
})

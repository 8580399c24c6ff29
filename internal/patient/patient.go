package patient

type Patient struct {
	ID         string   `json:"id" bson:"id"`
	Name       string   `json:"name" bson:"name"`
	Caregivers []string `json:"caregivers" bson:"caregivers"`
}

func (p *Patient) AddCaregiver(name string) {
	if p.HasCaregiver(name) {
		return
	}
	p.Caregivers = append(p.Caregivers, name)
}

func (p *Patient) HasCaregiver(name string) bool {
	for _, c := range p.Caregivers {
		if c == name {
			return true
		}
	}
	return false
}

// CanComplete reports whether who may mark the patient's reminders done.
func (p *Patient) CanComplete(who string) bool {
	return who == p.ID || p.HasCaregiver(who)
}

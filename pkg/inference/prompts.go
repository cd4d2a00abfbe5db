package inference

// Shared rules appended to every extraction instruction.
const evidenceRules = `
Rules:
- Answer with ONE JSON object and nothing else.
- Only what is documented for the current visit date counts.
- Every positive answer needs "exact_sentence": a short verbatim fragment copied from the note.
  Words like yes, no, noted, present, or an ICD code are not evidence.
- When evidence is missing the answer is "no" or 0 and "exact_sentence" is "".
- "page" is the page number the fragment appears on, or null. Never guess it.
- When documentation is ambiguous choose the lowest supported answer.`

const visitInstructions = `You classify the encounter described in a medical chart.
Return:
{"visit_type": "", "age": "", "cpt_code": ""}
"visit_type" is one of Office, Inpatient, Emergency, Consult, Preventive, Telehealth, Facility, Critical, Unknown.
"age" is the patient's age in years as written.
"cpt_code" is the evaluation and management code stated in the note; use "00000" when none is stated.
Use "" for anything not explicitly present.` + evidenceRules

const problemsInstructions = `You list the problems addressed at this visit, for medical decision making Table A.
Return:
{"patientType": "", "conditions": [{"condition": "", "category": "", "exact_sentence": "", "page": null}]}
"patientType" is "new", "established" or "" when the note does not say.
"category" is one code:
TLF  acute or chronic illness posing a threat to life or bodily function
CISE chronic illness with severe exacerbation or progression
AIS  acute illness with systemic symptoms
CIE  chronic illness with exacerbation, progression or treatment side effects
UNP  undiagnosed new problem with uncertain prognosis
AUIO acute uncomplicated illness requiring hospital inpatient or observation care
ACI  acute complicated injury
AUI  acute uncomplicated illness or injury
SAI  stable acute illness
SCI  stable chronic illness
SLM  self-limited or minor problem
List each condition once.` + evidenceRules

const dataInstructions = `You review the data analyzed at this visit, for medical decision making Table B.
Return:
{
 "RENOTE":  {"answer": 0, "exact_sentence": "", "page": null},
 "RTEST":   {"answer": 0, "exact_sentence": "", "page": null},
 "OTEST":   {"answer": 0, "exact_sentence": "", "page": null},
 "IHIST":   {"answer": "no", "exact_sentence": "", "page": null},
 "IINTERP": {"answer": "no", "exact_sentence": "", "page": null},
 "DMEXT":   {"answer": "no", "exact_sentence": "", "page": null}
}
RENOTE  number of prior external notes reviewed from each unique source
RTEST   number of unique test results reviewed
OTEST   number of unique tests ordered
IHIST   assessment requiring an independent historian
IINTERP independent interpretation of a test performed by another physician
DMEXT   discussion of management or test interpretation with an external physician` + evidenceRules

const riskInstructions = `You assess the risk of patient management at this visit, for medical decision making Table C.
Return an object with these keys, each {"answer": "no", "exact_sentence": "", "page": null}:
MIN_RISK           minimal risk of morbidity from additional testing or treatment
LOW_RISK           low risk of morbidity from additional testing or treatment
RX_MGMT            prescription drug management
MIN_SURG_RISK      decision on minor surgery with identified risk factors
MAJ_SURG_NO_RISK   decision on elective major surgery without identified risk factors
SDOH_LIMIT         diagnosis or treatment significantly limited by social determinants of health
TOX_MONITOR        drug therapy requiring intensive monitoring for toxicity
MAJ_SURG_WITH_RISK decision on elective major surgery with identified risk factors
EMERG_SURG         decision on emergency major surgery
HOSP_ESCALATE      decision regarding hospitalization or escalation of care
DNR                decision not to resuscitate or to de-escalate care
IV_CONTROLLED      parenteral controlled substances` + evidenceRules

const demographicsInstructions = `You copy patient demographics from the header of a medical chart.
Return:
{"name": "", "gender": "", "dateOfBirth": "", "age": "", "dateOfService": "", "mrn": "",
 "accountNumber": "", "email": "", "insuranceName": "", "financialClass": "", "patientType": ""}
Copy values exactly as written. Use "" for anything not present.
Answer with ONE JSON object and nothing else.`

// DiagnosisInstructions asks for the primary and secondary diagnoses of a chart.
const DiagnosisInstructions = `You assign ICD-10-CM diagnoses to a medical chart.
Return:
{
 "primary_condition": {"condition": "", "icd_code": "", "icd_description": "", "exact_sentence": "", "page": null},
 "secondary_condition": [{"condition": "", "icd_code": "", "icd_description": "", "exact_sentence": "", "page": null}]
}
The primary condition is the main reason for the visit. Secondary conditions are other
diagnoses addressed at this visit. "condition" is the diagnosis as the clinician wrote it.` + evidenceRules
